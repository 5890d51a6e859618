package sink

import (
	"sync"
	"sync/atomic"

	"beaconrelay/gateway/internal/model"
)

// DefaultBufferCapacity bounds the replay buffer when no capacity is configured.
const DefaultBufferCapacity = 100

// ReplayBuffer holds records whose writes failed, oldest first. Capacity is
// fixed: pushing into a full buffer evicts exactly the oldest entry and counts
// the loss. The buffer is memory-resident only and gone on crash.
type ReplayBuffer struct {
	mu       sync.Mutex
	records  []model.BeaconRecord
	capacity int
	dropped  atomic.Uint64
}

// NewReplayBuffer creates an empty buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &ReplayBuffer{
		records:  make([]model.BeaconRecord, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a record. It never fails; at capacity the oldest record is
// evicted first and its id returned so the caller can log the loss.
func (b *ReplayBuffer) Push(rec model.BeaconRecord) (evictedID string, evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) >= b.capacity {
		evictedID = b.records[0].RecordID
		evicted = true
		copy(b.records, b.records[1:])
		b.records = b.records[:len(b.records)-1]
		b.dropped.Add(1)
	}

	b.records = append(b.records, rec)
	return evictedID, evicted
}

// Len returns the current number of pending records.
func (b *ReplayBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Snapshot copies the current contents in insertion order. Flush iterates the
// copy so the lock is never held across store calls.
func (b *ReplayBuffer) Snapshot() []model.BeaconRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.BeaconRecord, len(b.records))
	copy(out, b.records)
	return out
}

// Remove deletes the record with the given id. It is a no-op when the id is
// absent, which lets flush tolerate evictions and pushes that happened after
// its snapshot was taken.
func (b *ReplayBuffer) Remove(recordID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, rec := range b.records {
		if rec.RecordID == recordID {
			b.records = append(b.records[:i], b.records[i+1:]...)
			return true
		}
	}
	return false
}

// Dropped returns the lifetime count of records lost to eviction. The counter
// is monotonic and never reset.
func (b *ReplayBuffer) Dropped() uint64 {
	return b.dropped.Load()
}
