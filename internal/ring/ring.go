// Package ring implements the fixed-capacity, overwrite-oldest queue of
// timestamped samples shared between the acquisition sampler (writer) and
// the uplink orchestrator (drainer).
package ring

import (
	"sync"

	"github.com/fieldlink/invedge/internal/domain"
)

// Ring is a fixed-capacity, overwrite-oldest circular buffer of
// TimestampedRecord. All operations are safe for concurrent use; push is
// O(1) and snapshot/size/capacity are O(capacity) worst case.
type Ring struct {
	mu   sync.Mutex
	buf  []domain.TimestampedRecord
	r, w int
	n    int
	d    uint32
}

// New allocates a Ring with the given capacity. Capacity must be >= 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]domain.TimestampedRecord, capacity)}
}

// Push inserts rec. If the ring is full the oldest record is overwritten and
// the drop counter is incremented; Push reports whether an overwrite
// occurred.
func (r *Ring) Push(rec domain.TimestampedRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cap := len(r.buf)
	overflowed := false
	if r.n == cap {
		r.r = (r.r + 1) % cap
		r.d++
		overflowed = true
	} else {
		r.n++
	}
	r.buf[r.w] = rec
	r.w = (r.w + 1) % cap
	return overflowed
}

// SnapshotAndClear drains the ring in FIFO order and resets it to empty,
// preserving the drop counter until TakeDropped is called.
func (r *Ring) SnapshotAndClear() []domain.TimestampedRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n == 0 {
		return nil
	}
	out := make([]domain.TimestampedRecord, r.n)
	cap := len(r.buf)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.r+i)%cap]
	}
	r.r, r.w, r.n = 0, 0, 0
	return out
}

// Size returns the current number of buffered records.
func (r *Ring) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Capacity returns the ring's fixed capacity.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// TakeDropped returns the number of records dropped since the last call and
// resets the counter to zero.
func (r *Ring) TakeDropped() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.d
	r.d = 0
	return d
}

// ComputeCapacity sizes the ring from the upload window and the sample
// period, with a fixed 20% margin so a slow uplink slot doesn't immediately
// start overwriting samples from the window in progress.
func ComputeCapacity(uploadIntervalMS, samplePeriodMS uint32) int {
	if samplePeriodMS == 0 {
		samplePeriodMS = 1000
	}
	base := int(uploadIntervalMS / samplePeriodMS)
	if base < 1 {
		base = 1
	}
	margin := base / 5
	return base + margin + 1
}
