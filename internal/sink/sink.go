// Package sink moves advertisements into the remote record store. Writes that
// fail after retries land in a bounded replay buffer; flush drains the buffer
// back through the same write path. Nothing in the steady-state path ever
// propagates an error to the caller.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"beaconrelay/gateway/internal/model"
	"beaconrelay/gateway/internal/remotestore"
	"beaconrelay/gateway/internal/retry"

	"github.com/google/uuid"
)

// Sink orchestrates record construction, retried writes, and buffering.
type Sink struct {
	store  remotestore.Client
	buffer *ReplayBuffer
	logger *slog.Logger
	origin model.Origin
	policy retry.Policy

	flushing atomic.Bool
	now      func() time.Time
}

// Options tune a Sink. Zero values select the defaults.
type Options struct {
	BufferCapacity int
	Retry          retry.Policy
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// New constructs a Sink writing records stamped with the given origin.
func New(store remotestore.Client, origin model.Origin, logger *slog.Logger, opts Options) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Sink{
		store:  store,
		buffer: NewReplayBuffer(opts.BufferCapacity),
		logger: logger,
		origin: origin,
		policy: opts.Retry,
		now:    now,
	}
}

// Initialize pings the store once at startup. This is the only place a storage
// failure is fatal: without a reachable, ready table there is no point
// accepting events at all.
func (s *Sink) Initialize(ctx context.Context) error {
	info, err := s.store.Describe(ctx)
	if err != nil {
		return fmt.Errorf("describe record table: %w", err)
	}
	if info.Status != remotestore.StatusReady {
		return fmt.Errorf("record table %q not ready (status %q)", info.Name, info.Status)
	}
	s.logger.Info("record store reachable", "table", info.Name, "records", info.RecordCount)
	return nil
}

// StoreRecord builds the durable record for one advertisement and attempts a
// write through the backoff executor. On any failure, exhausted retries and
// recovered panics included, the record is buffered and stored is false. The
// method never returns an error and never panics: ingestion must not be
// blocked or crashed by storage behavior.
func (s *Sink) StoreRecord(ctx context.Context, adv model.Advertisement) (recordID string, stored bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("record construction panic", "source", adv.SourceID, "panic", r)
			recordID, stored = "", false
		}
	}()

	rec := s.newRecord(adv)

	if err := s.write(ctx, rec); err != nil {
		s.bufferRecord(rec, err)
		return "", false
	}
	return rec.RecordID, true
}

// Flush replays buffered records oldest-first through the write path. At most
// one flush runs at a time; a second concurrent call returns Skipped without
// touching the store, as does a flush of an empty buffer (minus the Skipped).
func (s *Sink) Flush(ctx context.Context) FlushResult {
	if !s.flushing.CompareAndSwap(false, true) {
		s.logger.Debug("flush already in progress, skipping")
		return FlushResult{Skipped: true}
	}
	defer s.flushing.Store(false)

	snapshot := s.buffer.Snapshot()
	if len(snapshot) == 0 {
		return FlushResult{}
	}

	var res FlushResult
	for _, rec := range snapshot {
		if err := s.write(ctx, rec); err != nil {
			res.Failed++
			s.logger.Warn("flush write failed, record stays buffered",
				"record", rec.RecordID,
				"source", rec.SourceKey,
				"kind", remotestore.KindOf(err).String(),
			)
			continue
		}
		s.buffer.Remove(rec.RecordID)
		res.Success++
	}

	s.logger.Info("flush complete",
		"success", res.Success,
		"failed", res.Failed,
		"remaining", s.buffer.Len(),
	)
	return res
}

// BufferLen returns the number of records awaiting replay.
func (s *Sink) BufferLen() int { return s.buffer.Len() }

// Dropped returns the lifetime count of records lost to buffer overflow.
func (s *Sink) Dropped() uint64 { return s.buffer.Dropped() }

// FlushResult aggregates one flush run.
type FlushResult struct {
	Success int
	Failed  int
	Skipped bool
}

func (s *Sink) newRecord(adv model.Advertisement) model.BeaconRecord {
	now := s.now()
	distance := model.EstimateDistance(adv.RSSI, adv.TxPower)

	rec := model.BeaconRecord{
		RecordID:          uuid.NewString(),
		CapturedAtMillis:  now.UnixMilli(),
		CapturedAtISO:     now.UTC().Format(time.RFC3339Nano),
		SourceKey:         adv.SourceKey(),
		SignalStrength:    adv.RSSI,
		ReferencePower:    adv.TxPower,
		EstimatedDistance: distance,
		ProximityCategory: model.Proximity(distance),
		SourceAddress:     adv.Address,
		OriginID:          s.origin.ID,
		OriginName:        s.origin.Name,
		RawPayload:        adv.Payload,
	}
	if !s.origin.Location.IsZero() {
		loc := s.origin.Location
		rec.OriginLocation = &loc
	}
	return rec
}

// write runs one retried put, converting panics from the transport into plain
// errors so they degrade to buffering like any other failure.
func (s *Sink) write(ctx context.Context, rec model.BeaconRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store write panic: %v", r)
		}
	}()

	return retry.Do(ctx, s.logger, s.policy, func(ctx context.Context) error {
		return s.store.PutRecord(ctx, rec)
	})
}

func (s *Sink) bufferRecord(rec model.BeaconRecord, cause error) {
	evictedID, evicted := s.buffer.Push(rec)
	s.logger.Warn("write failed, record buffered",
		"record", rec.RecordID,
		"source", rec.SourceKey,
		"kind", remotestore.KindOf(cause).String(),
		"error", cause,
		"buffered", s.buffer.Len(),
	)
	if evicted {
		s.logger.Warn("replay buffer full, oldest record dropped",
			"record", evictedID,
			"dropped_total", s.buffer.Dropped(),
		)
	}
}
