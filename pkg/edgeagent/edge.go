package edgeagent

import (
	"context"

	"github.com/fieldlink/invedge/internal/adapters/httptransport"
	"github.com/fieldlink/invedge/internal/app/agent"
	"github.com/fieldlink/invedge/internal/ports"
)

// Observability, KVStore, Clock, UpdatePartition, and Reboot are re-exported
// port interfaces so embedding projects can supply their own adapters
// without importing internal packages.
type (
	Observability   = ports.Observability
	KVStore         = ports.KVStore
	Clock           = ports.Clock
	Transport       = ports.Transport
	UpdatePartition = ports.UpdatePartition
	Reboot          = ports.Reboot
	Field           = ports.Field
)

// RuntimeOption customizes the adapters NewRuntime wires up.
type RuntimeOption func(*agent.Overrides)

// WithObservability overrides the default Prometheus observability backend.
func WithObservability(obs ports.Observability) RuntimeOption {
	return func(o *agent.Overrides) { o.Obs = obs }
}

// WithKVStore overrides the default append-only file KV store.
func WithKVStore(kv ports.KVStore) RuntimeOption {
	return func(o *agent.Overrides) { o.KV = kv }
}

// WithClock overrides the default system clock.
func WithClock(c ports.Clock) RuntimeOption {
	return func(o *agent.Overrides) { o.Clock = c }
}

// WithDeviceTransport overrides the default net/http transport used to
// reach the inverter.
func WithDeviceTransport(t ports.Transport) RuntimeOption {
	return func(o *agent.Overrides) { o.DeviceTransport = t }
}

// WithCloudTransport overrides the default net/http transport used to reach
// the cloud upload endpoint.
func WithCloudTransport(t ports.Transport) RuntimeOption {
	return func(o *agent.Overrides) { o.CloudTransport = t }
}

// WithUpdatePartitionAdapter overrides the default on-disk A/B region
// simulation.
func WithUpdatePartitionAdapter(p ports.UpdatePartition) RuntimeOption {
	return func(o *agent.Overrides) { o.UpdatePartition = p }
}

// WithReboot overrides the default process-exit reboot hook.
func WithReboot(r ports.Reboot) RuntimeOption {
	return func(o *agent.Overrides) { o.Reboot = r }
}

// DefaultDeviceTransport returns a net/http-backed transport of the kind
// NewRuntime wires up by default for reaching the inverter, so callers can
// wrap it (a tap, a rate limiter) instead of replacing it outright. Its
// client timeout is the configured device timeout; the one NewRuntime builds
// itself sets no client timeout and relies on the per-attempt deadline.
func DefaultDeviceTransport(cfg *Config) Transport {
	return httptransport.New(cfg.Device.Timeout())
}

// DefaultCloudTransport returns a net/http-backed transport of the kind
// NewRuntime wires up by default for the cloud upload endpoint, with the
// configured cloud timeout as its client timeout.
func DefaultCloudTransport(cfg *Config) Transport {
	return httptransport.New(cfg.Cloud.Timeout())
}

// Runtime is the wired, runnable edge agent: acquisition sampler, device
// client, FOTA engine, and uplink orchestrator sharing one ring buffer and
// one runtime configuration store.
type Runtime struct {
	inner *agent.Runtime
}

// NewRuntime builds a Runtime from cfg, applying any RuntimeOption
// overrides in place of the default adapters.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	var ov agent.Overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&ov)
		}
	}
	inner, err := agent.New(cfg, ov)
	if err != nil {
		return nil, err
	}
	return &Runtime{inner: inner}, nil
}

// Start launches the sampler, uplink orchestrator, and metrics server, and
// returns immediately.
func (r *Runtime) Start() error { return r.inner.Start() }

// Run starts the runtime and blocks until ctx is canceled, then shuts down.
func (r *Runtime) Run(ctx context.Context) error { return r.inner.Run(ctx) }

// Shutdown stops the metrics server and background loops.
func (r *Runtime) Shutdown(ctx context.Context) error { return r.inner.Shutdown(ctx) }
