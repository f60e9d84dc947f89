// Package sysclock is the default ports.Clock: monotonic milliseconds from
// time.Now(), with an atomically-stored wall-clock offset applied once a
// time sync lands.
package sysclock

import (
	"sync/atomic"
	"time"
)

// SysClock implements ports.Clock against the process's monotonic clock.
type SysClock struct {
	start     time.Time
	offsetMS  atomic.Int64
	haveSync  atomic.Bool
}

// New returns a SysClock anchored at the current time.
func New() *SysClock {
	return &SysClock{start: time.Now()}
}

// MonotonicMS returns milliseconds elapsed since the clock was created.
func (c *SysClock) MonotonicMS() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

// SetEpochOffset records the wall-clock offset (epoch_ms - monotonic_ms)
// once a time sync has been obtained.
func (c *SysClock) SetEpochOffset(ms int64) {
	c.offsetMS.Store(ms)
	c.haveSync.Store(true)
}

// TimeSyncAvailable reports whether SetEpochOffset has ever been called.
func (c *SysClock) TimeSyncAvailable() bool {
	return c.haveSync.Load()
}

// EpochMS is MonotonicMS() plus the current offset (0 before any sync).
func (c *SysClock) EpochMS() uint64 {
	return uint64(int64(c.MonotonicMS()) + c.offsetMS.Load())
}
