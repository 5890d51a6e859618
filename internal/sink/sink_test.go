package sink

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"beaconrelay/gateway/internal/model"
	"beaconrelay/gateway/internal/remotestore"
	"beaconrelay/gateway/internal/retry"
)

type fakeStore struct {
	mu         sync.Mutex
	puts       []model.BeaconRecord
	putFn      func(model.BeaconRecord) error
	describeFn func() (remotestore.TableInfo, error)
}

func (f *fakeStore) PutRecord(_ context.Context, rec model.BeaconRecord) error {
	f.mu.Lock()
	f.puts = append(f.puts, rec)
	fn := f.putFn
	f.mu.Unlock()

	if fn != nil {
		return fn(rec)
	}
	return nil
}

func (f *fakeStore) Describe(context.Context) (remotestore.TableInfo, error) {
	if f.describeFn != nil {
		return f.describeFn()
	}
	return remotestore.TableInfo{Name: "BeaconRecords", Status: remotestore.StatusReady}, nil
}

func (f *fakeStore) QueryRecent(context.Context, string, time.Time) ([]model.BeaconRecord, error) {
	return nil, nil
}

func (f *fakeStore) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func (f *fakeStore) putIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.puts))
	for i, rec := range f.puts {
		ids[i] = rec.RecordID
	}
	return ids
}

func (f *fakeStore) setPutFn(fn func(model.BeaconRecord) error) {
	f.mu.Lock()
	f.putFn = fn
	f.mu.Unlock()
}

func unavailable() error {
	return &remotestore.Error{Kind: remotestore.KindUnavailable, Op: "put record"}
}

func testSink(store remotestore.Client, opts Options) *Sink {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	}
	return New(store, model.Origin{ID: "gw-test", Name: "test gateway"}, logger, opts)
}

func adv(source string) model.Advertisement {
	return model.Advertisement{SourceID: source, RSSI: -60}
}

func TestStoreRecord_Success(t *testing.T) {
	store := &fakeStore{}
	s := testSink(store, Options{})

	id, stored := s.StoreRecord(context.Background(), adv("scanner-1"))
	if !stored || id == "" {
		t.Fatalf("StoreRecord() = (%q, %v), want stored with id", id, stored)
	}
	if store.putCount() != 1 {
		t.Fatalf("put count = %d, want 1", store.putCount())
	}
	if s.BufferLen() != 0 {
		t.Fatalf("BufferLen() = %d, want 0", s.BufferLen())
	}

	rec := store.puts[0]
	if rec.RecordID != id {
		t.Fatalf("stored record id %q != returned id %q", rec.RecordID, id)
	}
	if rec.SourceKey != "unknown-scanner-1" {
		t.Fatalf("SourceKey = %q, want unknown-scanner-1", rec.SourceKey)
	}
	if rec.OriginID != "gw-test" {
		t.Fatalf("OriginID = %q, want gw-test", rec.OriginID)
	}
	if rec.CapturedAtMillis == 0 || rec.CapturedAtISO == "" {
		t.Fatalf("capture timestamps missing: %+v", rec)
	}
}

// The write always fails with a transient error: after 3 attempts the record
// lands in the buffer and the caller sees no error, only stored=false.
func TestStoreRecord_ExhaustedRetriesBuffers(t *testing.T) {
	store := &fakeStore{putFn: func(model.BeaconRecord) error { return unavailable() }}
	s := testSink(store, Options{Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}})

	id, stored := s.StoreRecord(context.Background(), adv("scanner-1"))
	if stored || id != "" {
		t.Fatalf("StoreRecord() = (%q, %v), want (\"\", false)", id, stored)
	}
	if store.putCount() != 3 {
		t.Fatalf("put count = %d, want 3 attempts", store.putCount())
	}
	if s.BufferLen() != 1 {
		t.Fatalf("BufferLen() = %d, want 1", s.BufferLen())
	}
}

func TestStoreRecord_PermanentFailureBuffersWithoutRetry(t *testing.T) {
	store := &fakeStore{putFn: func(model.BeaconRecord) error {
		return &remotestore.Error{Kind: remotestore.KindValidation, Op: "put record"}
	}}
	s := testSink(store, Options{Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}})

	_, stored := s.StoreRecord(context.Background(), adv("scanner-1"))
	if stored {
		t.Fatal("StoreRecord() stored despite permanent failure")
	}
	if store.putCount() != 1 {
		t.Fatalf("put count = %d, want 1 (no retry on permanent errors)", store.putCount())
	}
	if s.BufferLen() != 1 {
		t.Fatalf("BufferLen() = %d, want 1", s.BufferLen())
	}
}

func TestStoreRecord_TransportPanicIsAbsorbed(t *testing.T) {
	store := &fakeStore{putFn: func(model.BeaconRecord) error { panic("wire exploded") }}
	s := testSink(store, Options{})

	_, stored := s.StoreRecord(context.Background(), adv("scanner-1"))
	if stored {
		t.Fatal("StoreRecord() stored despite panic")
	}
	if s.BufferLen() != 1 {
		t.Fatalf("BufferLen() = %d, want 1 (panic degrades to buffering)", s.BufferLen())
	}
}

func TestFlush_EmptyBufferSkipsStore(t *testing.T) {
	store := &fakeStore{}
	s := testSink(store, Options{})

	res := s.Flush(context.Background())
	if res.Success != 0 || res.Failed != 0 || res.Skipped {
		t.Fatalf("Flush() = %+v, want zero counts", res)
	}
	if store.putCount() != 0 {
		t.Fatalf("flush of empty buffer contacted the store %d times", store.putCount())
	}
}

// With 3 buffered records where the middle one fails permanently, flush
// reports {2,1} and only the failed record remains buffered.
func TestFlush_PartialFailure(t *testing.T) {
	store := &fakeStore{putFn: func(model.BeaconRecord) error { return unavailable() }}
	s := testSink(store, Options{})

	for i := 0; i < 3; i++ {
		s.StoreRecord(context.Background(), adv("scanner-1"))
	}
	if s.BufferLen() != 3 {
		t.Fatalf("BufferLen() = %d, want 3 buffered", s.BufferLen())
	}
	buffered := s.buffer.Snapshot()
	failID := buffered[1].RecordID

	store.setPutFn(func(rec model.BeaconRecord) error {
		if rec.RecordID == failID {
			return &remotestore.Error{Kind: remotestore.KindValidation, Op: "put record"}
		}
		return nil
	})

	res := s.Flush(context.Background())
	if res.Success != 2 || res.Failed != 1 || res.Skipped {
		t.Fatalf("Flush() = %+v, want {Success:2 Failed:1}", res)
	}
	if s.BufferLen() != 1 {
		t.Fatalf("BufferLen() = %d, want 1", s.BufferLen())
	}
	if remaining := s.buffer.Snapshot(); remaining[0].RecordID != failID {
		t.Fatalf("remaining record = %q, want the failed one %q", remaining[0].RecordID, failID)
	}
}

// Flush replays buffered records oldest-first.
func TestFlush_FIFOOrder(t *testing.T) {
	store := &fakeStore{putFn: func(model.BeaconRecord) error { return unavailable() }}
	s := testSink(store, Options{})

	s.StoreRecord(context.Background(), adv("scanner-1"))
	s.StoreRecord(context.Background(), adv("scanner-2"))

	buffered := s.buffer.Snapshot()
	store.setPutFn(nil)
	store.mu.Lock()
	store.puts = nil
	store.mu.Unlock()

	res := s.Flush(context.Background())
	if res.Success != 2 || res.Failed != 0 {
		t.Fatalf("Flush() = %+v, want {Success:2}", res)
	}

	ids := store.putIDs()
	if len(ids) != 2 || ids[0] != buffered[0].RecordID || ids[1] != buffered[1].RecordID {
		t.Fatalf("flush order %v, want insertion order %v", ids, []string{buffered[0].RecordID, buffered[1].RecordID})
	}
}

func TestFlush_ConcurrentCallSkipped(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	store := &fakeStore{putFn: func(model.BeaconRecord) error { return unavailable() }}
	s := testSink(store, Options{})

	s.StoreRecord(context.Background(), adv("scanner-1"))

	store.setPutFn(func(model.BeaconRecord) error {
		entered <- struct{}{}
		<-gate
		return nil
	})

	done := make(chan FlushResult, 1)
	go func() { done <- s.Flush(context.Background()) }()
	<-entered

	second := s.Flush(context.Background())
	if !second.Skipped {
		t.Fatalf("concurrent Flush() = %+v, want Skipped", second)
	}

	close(gate)
	first := <-done
	if first.Success != 1 || first.Skipped {
		t.Fatalf("first Flush() = %+v, want {Success:1}", first)
	}
	if s.BufferLen() != 0 {
		t.Fatalf("BufferLen() = %d, want 0 after successful flush", s.BufferLen())
	}
}

// Every record is accounted for: stored, buffered, or counted as dropped.
func TestAtLeastOnceAccounting(t *testing.T) {
	store := &fakeStore{putFn: func(model.BeaconRecord) error { return unavailable() }}
	s := testSink(store, Options{BufferCapacity: 5})

	const total = 8
	for i := 0; i < total; i++ {
		s.StoreRecord(context.Background(), adv("scanner-1"))
	}

	buffered := s.BufferLen()
	dropped := int(s.Dropped())
	if buffered != 5 {
		t.Fatalf("BufferLen() = %d, want capacity 5", buffered)
	}
	if buffered+dropped != total {
		t.Fatalf("buffered %d + dropped %d != %d events", buffered, dropped, total)
	}
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name    string
		fn      func() (remotestore.TableInfo, error)
		wantErr bool
	}{
		{
			name: "ready",
			fn: func() (remotestore.TableInfo, error) {
				return remotestore.TableInfo{Name: "BeaconRecords", Status: remotestore.StatusReady}, nil
			},
		},
		{
			name: "not ready",
			fn: func() (remotestore.TableInfo, error) {
				return remotestore.TableInfo{Name: "BeaconRecords", Status: "creating"}, nil
			},
			wantErr: true,
		},
		{
			name: "unreachable",
			fn: func() (remotestore.TableInfo, error) {
				return remotestore.TableInfo{}, &remotestore.Error{Kind: remotestore.KindNetwork, Op: "describe"}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSink(&fakeStore{describeFn: tt.fn}, Options{})
			err := s.Initialize(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
