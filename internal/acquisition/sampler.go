// Package acquisition implements the periodic sampler (C8): it reads either
// the selected fields or the full set from the device client, timestamps the
// result, and pushes it into the ring under the ring's own mutex. The period
// is re-read from RuntimeConfig at the top of every tick so a staged
// configuration takes effect at the next loop, not mid-tick.
package acquisition

import (
	"context"
	"time"

	"github.com/fieldlink/invedge/internal/domain"
	"github.com/fieldlink/invedge/internal/ports"
	"github.com/fieldlink/invedge/internal/ring"
)

// DeviceReader is the subset of the device client the sampler drives.
type DeviceReader interface {
	ReadAll(ctx context.Context, sample *domain.Sample) bool
	ReadSelected(ctx context.Context, fields []domain.FieldID, sample *domain.Sample) bool
}

// ConfigSource supplies the current RuntimeConfig, read fresh every tick.
type ConfigSource interface {
	Current() domain.RuntimeConfig
}

// Sampler is the acquisition task.
type Sampler struct {
	dev    DeviceReader
	cfg    ConfigSource
	ring   *ring.Ring
	clock  ports.Clock
	obs    ports.Observability

	consecutiveFails int
}

// New returns a Sampler driving dev, gated by cfg, writing into r.
func New(dev DeviceReader, cfg ConfigSource, r *ring.Ring, clock ports.Clock, obs ports.Observability) *Sampler {
	return &Sampler{dev: dev, cfg: cfg, ring: r, clock: clock, obs: obs}
}

// Run loops until ctx is canceled, sampling at the period named by the
// current RuntimeConfig at the top of each tick.
func (s *Sampler) Run(ctx context.Context) {
	for {
		cur := s.cfg.Current()
		period := time.Duration(cur.SamplingIntervalMS) * time.Millisecond
		if period <= 0 {
			period = time.Second
		}

		s.tick(ctx, cur)

		select {
		case <-ctx.Done():
			return
		case <-time.After(period):
		}
	}
}

func (s *Sampler) tick(ctx context.Context, cur domain.RuntimeConfig) {
	var sample domain.Sample
	var ok bool
	if len(cur.Fields) == 0 {
		ok = s.dev.ReadAll(ctx, &sample)
	} else {
		ok = s.dev.ReadSelected(ctx, cur.Fields, &sample)
	}

	if !ok {
		s.consecutiveFails++
		if s.consecutiveFails%3 == 0 && s.obs != nil {
			s.obs.LogError("acq_read_fail", nil, ports.Field{Key: "consecutive", Value: s.consecutiveFails})
		}
		return
	}
	s.consecutiveFails = 0

	rec := domain.TimestampedRecord{EpochMS: s.clock.EpochMS(), Sample: sample}
	if overflowed := s.ring.Push(rec); overflowed && s.obs != nil {
		s.obs.LogError("buffer_overflow", nil)
	}
	if s.obs != nil {
		s.obs.SetGauge("invedge_ring_size", float64(s.ring.Size()))
	}
}
