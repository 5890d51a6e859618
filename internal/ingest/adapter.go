// Package ingest is the scanner-facing entry point of the pipeline.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"beaconrelay/gateway/internal/model"
	"beaconrelay/gateway/internal/sink"
)

// Adapter accepts one advertisement per scanner callback. It validates,
// rate-limits repeated sources, and dispatches the write as an independent
// unit of work. The callback path is bounded-time regardless of storage state
// and never lets a failure escape to the scanner.
type Adapter struct {
	sink     *sink.Sink
	logger   *slog.Logger
	interval time.Duration

	mu        sync.Mutex
	lastSeen  map[string]time.Time
	lastSweep time.Time

	inflight   sync.WaitGroup
	accepted   atomic.Uint64
	suppressed atomic.Uint64
	rejected   atomic.Uint64

	now func() time.Time
}

// New constructs an adapter. interval is the per-source suppression window;
// 0 disables rate limiting.
func New(s *sink.Sink, interval time.Duration, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		sink:     s,
		logger:   logger,
		interval: interval,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// HandleAdvertisement is the scanner's event callback. It returns promptly:
// the store attempt runs on its own goroutine and every outcome is absorbed
// into buffer state or counters before anything could surface here.
func (a *Adapter) HandleAdvertisement(adv model.Advertisement) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("ingestion panic absorbed", "source", adv.SourceID, "panic", r)
		}
	}()

	if adv.SourceID == "" || adv.RSSI >= 0 || adv.RSSI < -127 {
		a.rejected.Add(1)
		a.logger.Warn("advertisement rejected", "source", adv.SourceID, "rssi", adv.RSSI)
		return
	}

	if a.suppress(adv.SourceID) {
		a.suppressed.Add(1)
		return
	}

	a.accepted.Add(1)
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("store dispatch panic absorbed", "source", adv.SourceID, "panic", r)
			}
		}()
		a.sink.StoreRecord(context.Background(), adv)
	}()
}

// suppress tracks the last delegation per source and drops repeats inside the
// window. Entries older than the window are swept whenever a full window has
// passed since the previous sweep, so the map stays bounded by the number of
// sources active per window.
func (a *Adapter) suppress(sourceID string) bool {
	if a.interval <= 0 {
		return false
	}

	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if now.Sub(a.lastSweep) >= a.interval {
		for id, seen := range a.lastSeen {
			if now.Sub(seen) >= a.interval {
				delete(a.lastSeen, id)
			}
		}
		a.lastSweep = now
	}

	if last, ok := a.lastSeen[sourceID]; ok && now.Sub(last) < a.interval {
		return true
	}
	a.lastSeen[sourceID] = now
	return false
}

// Drain waits for in-flight store dispatches, up to timeout. Used at shutdown
// before the final flush; the bound is best-effort.
func (a *Adapter) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stats returns the lifetime accepted/suppressed/rejected counts.
func (a *Adapter) Stats() (accepted, suppressed, rejected uint64) {
	return a.accepted.Load(), a.suppressed.Load(), a.rejected.Load()
}

func (a *Adapter) trackedSources() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lastSeen)
}
