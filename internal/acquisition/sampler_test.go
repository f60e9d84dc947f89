package acquisition

import (
	"context"
	"testing"

	"github.com/fieldlink/invedge/internal/domain"
	"github.com/fieldlink/invedge/internal/ports"
	"github.com/fieldlink/invedge/internal/ring"
)

type fakeDevice struct {
	readAllResults []bool
	i              int
}

func (f *fakeDevice) ReadAll(ctx context.Context, s *domain.Sample) bool {
	ok := f.readAllResults[f.i]
	if f.i < len(f.readAllResults)-1 {
		f.i++
	}
	if ok {
		s.PAC = 42
	}
	return ok
}

func (f *fakeDevice) ReadSelected(ctx context.Context, fields []domain.FieldID, s *domain.Sample) bool {
	return true
}

type fixedConfig struct{ cfg domain.RuntimeConfig }

func (c fixedConfig) Current() domain.RuntimeConfig { return c.cfg }

type fakeClock struct{ ms uint64 }

func (c *fakeClock) MonotonicMS() uint64      { return c.ms }
func (c *fakeClock) SetEpochOffset(ms int64)  {}
func (c *fakeClock) TimeSyncAvailable() bool  { return false }
func (c *fakeClock) EpochMS() uint64          { return c.ms }

type countingObs struct {
	errors int
	lastGauge float64
}

func (o *countingObs) LogInfo(msg string, fields ...ports.Field)                {}
func (o *countingObs) LogError(msg string, err error, fields ...ports.Field)    { o.errors++ }
func (o *countingObs) LogCritical(msg string, err error, fields ...ports.Field) {}
func (o *countingObs) IncCounter(name string, v float64)                       {}
func (o *countingObs) ObserveLatency(name string, seconds float64)             {}
func (o *countingObs) SetGauge(name string, v float64)                         { o.lastGauge = v }

func TestTickPushesSampleOnSuccess(t *testing.T) {
	dev := &fakeDevice{readAllResults: []bool{true}}
	cfg := fixedConfig{cfg: domain.RuntimeConfig{SamplingIntervalMS: 1000}}
	r := ring.New(4)
	clock := &fakeClock{ms: 100}
	obs := &countingObs{}
	s := New(dev, cfg, r, clock, obs)

	s.tick(context.Background(), cfg.Current())
	if r.Size() != 1 {
		t.Fatalf("expected 1 record in ring, got %d", r.Size())
	}
	if obs.lastGauge != 1 {
		t.Fatalf("expected gauge=1, got %v", obs.lastGauge)
	}
}

func TestThirdConsecutiveFailureLogs(t *testing.T) {
	dev := &fakeDevice{readAllResults: []bool{false}}
	cfg := fixedConfig{cfg: domain.RuntimeConfig{SamplingIntervalMS: 1000}}
	r := ring.New(4)
	clock := &fakeClock{}
	obs := &countingObs{}
	s := New(dev, cfg, r, clock, obs)

	for i := 0; i < 3; i++ {
		s.tick(context.Background(), cfg.Current())
	}
	if obs.errors != 1 {
		t.Fatalf("expected exactly 1 rate-limited failure log after 3 fails, got %d", obs.errors)
	}
	if r.Size() != 0 {
		t.Fatalf("expected ring to stay empty on failure")
	}
}
