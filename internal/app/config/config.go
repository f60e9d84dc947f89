// Package config loads the edge agent's YAML configuration: parse, apply
// defaults, validate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldlink/invedge/internal/transport"
)

// Config is the full on-disk agent configuration.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Cloud   CloudConfig   `yaml:"cloud"`
	Agent   AgentConfig   `yaml:"agent"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DeviceConfig addresses the inverter's HTTP-tunneled Modbus frames.
type DeviceConfig struct {
	BaseURL    string `yaml:"base_url"`
	Token      string `yaml:"token"`
	SlaveID    uint8  `yaml:"slave_id"`
	TimeoutMS  int64  `yaml:"timeout_ms"`
	Retries    int    `yaml:"retries"`
	BackoffMS  int64  `yaml:"backoff_base_ms"`
	BackoffCap int64  `yaml:"backoff_max_ms"`
}

// Timeout returns the per-request device timeout as a time.Duration.
func (d DeviceConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// CloudConfig addresses the cloud upload endpoint.
type CloudConfig struct {
	URL        string `yaml:"url"`
	Token      string `yaml:"token"`
	TimeoutMS  int64  `yaml:"timeout_ms"`
	Retries    int    `yaml:"retries"`
	BackoffMS  int64  `yaml:"backoff_base_ms"`
	BackoffCap int64  `yaml:"backoff_max_ms"`

	SecurityEnabled bool   `yaml:"security_enabled"`
	PSK             string `yaml:"psk"`
}

// Timeout returns the per-request cloud timeout as a time.Duration.
func (c CloudConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// AgentConfig holds the process-wide identity and scheduling knobs.
type AgentConfig struct {
	DeviceID           string `yaml:"device_id"`
	SamplingIntervalMS uint32 `yaml:"sampling_interval_ms"`
	UploadIntervalMS   uint32 `yaml:"upload_interval_ms"`
}

// StorageConfig points at the on-disk KV log and firmware update regions.
type StorageConfig struct {
	KVDir            string `yaml:"kv_dir"`
	UpdatePartitionDir string `yaml:"update_partition_dir"`
}

// MetricsConfig is the Prometheus HTTP listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads, parses, defaults, and validates a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.TimeoutMS == 0 {
		c.Device.TimeoutMS = 2000
	}
	if c.Device.Retries == 0 {
		c.Device.Retries = 3
	}
	if c.Device.BackoffMS == 0 {
		c.Device.BackoffMS = 200
	}
	if c.Device.BackoffCap == 0 {
		c.Device.BackoffCap = 2000
	}
	if c.Device.SlaveID == 0 {
		c.Device.SlaveID = 1
	}

	if c.Cloud.TimeoutMS == 0 {
		c.Cloud.TimeoutMS = 5000
	}
	if c.Cloud.Retries == 0 {
		c.Cloud.Retries = 3
	}
	if c.Cloud.BackoffMS == 0 {
		c.Cloud.BackoffMS = 500
	}
	if c.Cloud.BackoffCap == 0 {
		c.Cloud.BackoffCap = 5000
	}

	if c.Agent.SamplingIntervalMS == 0 {
		c.Agent.SamplingIntervalMS = 1000
	}
	if c.Agent.UploadIntervalMS == 0 {
		c.Agent.UploadIntervalMS = 60_000
	}
	if c.Agent.DeviceID == "" {
		c.Agent.DeviceID = "invedge-unknown"
	}

	if c.Storage.KVDir == "" {
		c.Storage.KVDir = "./data/kv"
	}
	if c.Storage.UpdatePartitionDir == "" {
		c.Storage.UpdatePartitionDir = "./data/fota"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
}

func (c *Config) validate() error {
	if c.Device.BaseURL == "" {
		return fmt.Errorf("device.base_url is required")
	}
	if c.Cloud.URL == "" {
		return fmt.Errorf("cloud.url is required")
	}
	if c.Cloud.SecurityEnabled && c.Cloud.PSK == "" {
		return fmt.Errorf("cloud.psk is required when cloud.security_enabled is true")
	}
	if c.Agent.UploadIntervalMS < c.Agent.SamplingIntervalMS {
		return fmt.Errorf("agent.upload_interval_ms must be >= agent.sampling_interval_ms")
	}
	return nil
}

// DeviceRetryPolicy builds the device transport's retry policy from config.
func (c *Config) DeviceRetryPolicy() transport.RetryPolicy {
	return transport.RetryPolicy{Retries: c.Device.Retries, BaseMS: c.Device.BackoffMS, MaxMS: c.Device.BackoffCap}
}

// CloudRetryPolicy builds the cloud transport's retry policy from config.
func (c *Config) CloudRetryPolicy() transport.RetryPolicy {
	return transport.RetryPolicy{Retries: c.Cloud.Retries, BaseMS: c.Cloud.BackoffMS, MaxMS: c.Cloud.BackoffCap}
}
