// Package edgeagent is the public wiring surface for the inverter edge
// agent: load a Config, build a Runtime, run it. It is a thin re-export
// layer over the internal/app wiring so embedding projects never import
// internal packages directly.
package edgeagent

import (
	"github.com/fieldlink/invedge/internal/app/config"
)

// Config re-exports the root configuration struct.
type Config = config.Config

type (
	// DeviceConfig addresses the inverter transport.
	DeviceConfig = config.DeviceConfig
	// CloudConfig addresses the cloud upload endpoint and envelope security.
	CloudConfig = config.CloudConfig
	// AgentConfig holds device identity and scheduling knobs.
	AgentConfig = config.AgentConfig
	// StorageConfig points at the KV log and firmware update regions.
	StorageConfig = config.StorageConfig
	// MetricsConfig configures the Prometheus HTTP listener.
	MetricsConfig = config.MetricsConfig
)

// LoadConfig loads and validates a YAML config file from disk.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
