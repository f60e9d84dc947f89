package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
device:
  base_url: "http://inverter.local/modbus-tunnel"
cloud:
  url: "https://ingest.example/v1/uplink"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Device.Timeout() != 2*time.Second {
		t.Fatalf("expected default device timeout 2s, got %s", cfg.Device.Timeout())
	}
	if cfg.Device.Retries != 3 {
		t.Fatalf("expected default device retries 3, got %d", cfg.Device.Retries)
	}
	if cfg.Device.SlaveID != 1 {
		t.Fatalf("expected default slave id 1, got %d", cfg.Device.SlaveID)
	}
	if cfg.Cloud.Timeout() != 5*time.Second {
		t.Fatalf("expected default cloud timeout 5s, got %s", cfg.Cloud.Timeout())
	}
	if cfg.Agent.SamplingIntervalMS != 1000 {
		t.Fatalf("expected default sampling interval 1000ms, got %d", cfg.Agent.SamplingIntervalMS)
	}
	if cfg.Agent.UploadIntervalMS != 60_000 {
		t.Fatalf("expected default upload interval 60000ms, got %d", cfg.Agent.UploadIntervalMS)
	}
	if cfg.Agent.DeviceID != "invedge-unknown" {
		t.Fatalf("expected default device id fallback, got %s", cfg.Agent.DeviceID)
	}
	if cfg.Storage.KVDir != "./data/kv" {
		t.Fatalf("expected default kv dir, got %s", cfg.Storage.KVDir)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
}

func TestLoadRejectsMissingDeviceURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
cloud:
  url: "https://ingest.example/v1/uplink"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing device.base_url")
	}
}

func TestLoadRejectsSecurityEnabledWithoutPSK(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
device:
  base_url: "http://inverter.local/modbus-tunnel"
cloud:
  url: "https://ingest.example/v1/uplink"
  security_enabled: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for security_enabled without psk")
	}
}

func TestLoadRejectsUploadIntervalBelowSampling(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
device:
  base_url: "http://inverter.local/modbus-tunnel"
cloud:
  url: "https://ingest.example/v1/uplink"
agent:
  sampling_interval_ms: 5000
  upload_interval_ms: 1000
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for upload interval below sampling interval")
	}
}

func TestRetryPolicyHelpers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
device:
  base_url: "http://inverter.local/modbus-tunnel"
  retries: 4
  backoff_base_ms: 111
  backoff_max_ms: 2222
cloud:
  url: "https://ingest.example/v1/uplink"
  retries: 5
  backoff_base_ms: 333
  backoff_max_ms: 4444
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	dp := cfg.DeviceRetryPolicy()
	if dp.Retries != 4 || dp.BaseMS != 111 || dp.MaxMS != 2222 {
		t.Fatalf("unexpected device retry policy: %+v", dp)
	}
	cp := cfg.CloudRetryPolicy()
	if cp.Retries != 5 || cp.BaseMS != 333 || cp.MaxMS != 4444 {
		t.Fatalf("unexpected cloud retry policy: %+v", cp)
	}
}
