// Package invedge is the top-level import surface for the inverter edge
// agent: load a config, build a Runtime, run it. It re-exports
// pkg/edgeagent so embedding projects can depend on
// github.com/fieldlink/invedge directly.
package invedge

import (
	base "github.com/fieldlink/invedge/pkg/edgeagent"
)

type (
	Config          = base.Config
	DeviceConfig    = base.DeviceConfig
	CloudConfig     = base.CloudConfig
	AgentConfig     = base.AgentConfig
	StorageConfig   = base.StorageConfig
	MetricsConfig   = base.MetricsConfig
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Observability   = base.Observability
	KVStore         = base.KVStore
	Clock           = base.Clock
	Transport       = base.Transport
	UpdatePartition = base.UpdatePartition
	Reboot          = base.Reboot
	Field           = base.Field
)

// LoadConfig loads and validates a YAML config file from disk.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// NewRuntime builds a Runtime from cfg, applying any RuntimeOption
// overrides in place of the default adapters.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithKVStore(kv KVStore) RuntimeOption {
	return base.WithKVStore(kv)
}

func WithClock(c Clock) RuntimeOption {
	return base.WithClock(c)
}

func WithDeviceTransport(t Transport) RuntimeOption {
	return base.WithDeviceTransport(t)
}

func WithCloudTransport(t Transport) RuntimeOption {
	return base.WithCloudTransport(t)
}

func WithUpdatePartitionAdapter(p UpdatePartition) RuntimeOption {
	return base.WithUpdatePartitionAdapter(p)
}

func WithReboot(r Reboot) RuntimeOption {
	return base.WithReboot(r)
}

// DefaultDeviceTransport returns the default device-facing transport for cfg.
func DefaultDeviceTransport(cfg *Config) Transport {
	return base.DefaultDeviceTransport(cfg)
}

// DefaultCloudTransport returns the default cloud-facing transport for cfg.
func DefaultCloudTransport(cfg *Config) Transport {
	return base.DefaultCloudTransport(cfg)
}
