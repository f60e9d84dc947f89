// Package ports declares the external collaborators the core depends on:
// transport, clock, persistent key/value storage, the firmware update
// partition, and the reboot hook. Each has exactly one default adapter under
// internal/adapters, and tests substitute fakes for all of them.
package ports

import "context"

// Transport performs one HTTP POST and reports the raw outcome. It is the
// only I/O primitive the core touches directly; everything above it (retry,
// framing, envelopes) is core logic.
type Transport interface {
	Post(ctx context.Context, url string, headers map[string]string, body []byte) (status int, reply []byte, err error)
}

// Clock abstracts wall-clock/monotonic time so the core never calls
// time.Now directly (captured samples must carry epoch_ms even before a
// time sync has ever landed).
type Clock interface {
	MonotonicMS() uint64
	SetEpochOffset(ms int64)
	TimeSyncAvailable() bool
	// EpochMS returns MonotonicMS() adjusted by the current offset, or the
	// raw monotonic count when no offset has ever been set.
	EpochMS() uint64
}

// KVStore is a namespaced string/uint64 key-value store with idempotent
// initialization.
type KVStore interface {
	Init() error
	GetU64(ns, key string) (uint64, bool)
	SetU64(ns, key string, v uint64) error
	GetStr(ns, key string) (string, bool)
	SetStr(ns, key string, v string) error
}

// UpdateHandle identifies an open write session against an update region.
type UpdateHandle int

// UpdatePartition models the firmware-update flash regions (A/B slots) the
// FOTA engine writes into and the bootloader reads from.
type UpdatePartition interface {
	NextUpdateRegion() (string, error)
	Begin(region string, size uint32) (UpdateHandle, error)
	Write(h UpdateHandle, p []byte) error
	Read(region string, offset uint32, p []byte) (int, error)
	End(h UpdateHandle) error
	SetBoot(region string) error
	RunningRegionState() (string, int) // region name, domain.RegionState as int
	MarkValid() error
}

// Reboot relinquishes control to the platform.
type Reboot interface {
	Reboot()
}

// Field is a structured log/metric field.
type Field struct {
	Key   string
	Value any
}

// Observability receives structured logs, counters, gauges, and latency
// samples from every core component.
type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)
	SetGauge(name string, v float64)
}
