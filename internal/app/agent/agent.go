// Package agent wires the core components (device client, sampler, FOTA
// engine, orchestrator) into one runnable unit: defaults come from the
// loaded Config, and every adapter can be overridden by the embedding
// pkg/edgeagent package for tests or alternate deployments.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldlink/invedge/internal/acquisition"
	"github.com/fieldlink/invedge/internal/adapters/httptransport"
	"github.com/fieldlink/invedge/internal/adapters/kvstore"
	"github.com/fieldlink/invedge/internal/adapters/observability"
	"github.com/fieldlink/invedge/internal/adapters/reboot"
	"github.com/fieldlink/invedge/internal/adapters/sysclock"
	"github.com/fieldlink/invedge/internal/adapters/updatepartition"
	"github.com/fieldlink/invedge/internal/app/config"
	"github.com/fieldlink/invedge/internal/device"
	"github.com/fieldlink/invedge/internal/domain"
	"github.com/fieldlink/invedge/internal/fota"
	"github.com/fieldlink/invedge/internal/orchestrator"
	"github.com/fieldlink/invedge/internal/ports"
	"github.com/fieldlink/invedge/internal/ring"
	"github.com/fieldlink/invedge/internal/runtimeconfig"
	"github.com/fieldlink/invedge/internal/transport"
)

// Overrides lets callers substitute any default adapter.
type Overrides struct {
	Obs             ports.Observability
	KV              ports.KVStore
	Clock           ports.Clock
	DeviceTransport ports.Transport
	CloudTransport  ports.Transport
	UpdatePartition ports.UpdatePartition
	Reboot          ports.Reboot
}

// Runtime is the wired, runnable edge agent.
type Runtime struct {
	cfg *config.Config

	obs      ports.Observability
	kv       ports.KVStore
	clock    ports.Clock
	ringBuf  *ring.Ring
	cfgStore *runtimeconfig.Store

	deviceTransport *transport.DeviceTransport
	cloudTransport  *transport.CloudTransport
	deviceClient    *device.Client
	fotaEngine      *fota.Engine
	sampler         *acquisition.Sampler
	orch            *orchestrator.Orchestrator

	metricsSrv *http.Server

	cancel  context.CancelFunc
	doneCh  chan struct{}
	started bool
}

// New builds a Runtime from cfg, applying any overrides in place of the
// default adapters.
func New(cfg *config.Config, ov Overrides) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	obs := ov.Obs
	if obs == nil {
		obs = observability.New()
	}

	kv := ov.KV
	if kv == nil {
		fkv, err := kvstore.New(cfg.Storage.KVDir)
		if err != nil {
			return nil, fmt.Errorf("open kv store: %w", err)
		}
		kv = fkv
	}
	if err := kv.Init(); err != nil {
		return nil, fmt.Errorf("init kv store: %w", err)
	}

	clock := ov.Clock
	if clock == nil {
		clock = sysclock.New()
	}

	devTr := ov.DeviceTransport
	if devTr == nil {
		devTr = httptransport.New(0)
	}
	cloudTr := ov.CloudTransport
	if cloudTr == nil {
		cloudTr = httptransport.New(0)
	}

	part := ov.UpdatePartition
	if part == nil {
		fr, err := updatepartition.New(cfg.Storage.UpdatePartitionDir)
		if err != nil {
			return nil, fmt.Errorf("open update partition: %w", err)
		}
		part = fr
	}

	reb := ov.Reboot
	if reb == nil {
		reb = reboot.New()
	}

	deviceTransport := transport.New(devTr, obs, cfg.Device.BaseURL, cfg.Device.Token, cfg.DeviceRetryPolicy(), cfg.Device.Timeout())
	cloudTransport := transport.NewCloud(cloudTr, obs, cfg.Cloud.URL, cfg.Cloud.Token, cfg.CloudRetryPolicy(), cfg.Cloud.Timeout())

	faultSink := orchestrator.NewFaultSink(obs)
	deviceClient := device.New(deviceTransport, faultSink, obs, cfg.Device.SlaveID)

	fotaProgress := func(written, total uint32) {
		if total > 0 {
			obs.SetGauge("invedge_fota_active", 1)
		} else {
			obs.SetGauge("invedge_fota_active", 0)
		}
	}
	fotaEngine := fota.New(kv, part, reb, obs, fotaProgress)

	cfgStore := runtimeconfig.New(kv, domain.RuntimeConfig{SamplingIntervalMS: cfg.Agent.SamplingIntervalMS})
	capacity := ring.ComputeCapacity(cfg.Agent.UploadIntervalMS, cfg.Agent.SamplingIntervalMS)
	ringBuf := ring.New(capacity)

	sampler := acquisition.New(deviceClient, cfgStore, ringBuf, clock, obs)

	orch := orchestrator.New(orchestrator.Config{
		DeviceID:          cfg.Agent.DeviceID,
		Cloud:             cloudTransport,
		CfgStore:          cfgStore,
		Ring:              ringBuf,
		KV:                kv,
		Clock:             clock,
		Obs:               obs,
		FOTA:              fotaEngine,
		Commander:         deviceClient,
		Faults:            faultSink,
		TransportFailures: cloudTransport.Failures,
		SecurityEnabled:   cfg.Cloud.SecurityEnabled,
		PSK:               []byte(cfg.Cloud.PSK),
	})

	return &Runtime{
		cfg:             cfg,
		obs:             obs,
		kv:              kv,
		clock:           clock,
		ringBuf:         ringBuf,
		cfgStore:        cfgStore,
		deviceTransport: deviceTransport,
		cloudTransport:  cloudTransport,
		deviceClient:    deviceClient,
		fotaEngine:      fotaEngine,
		sampler:         sampler,
		orch:            orch,
	}, nil
}

// Start launches the sampler, the uplink orchestrator, and the metrics
// server, and returns immediately.
func (r *Runtime) Start() error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	if r.started {
		return nil
	}
	r.started = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.doneCh = make(chan struct{})

	go r.sampler.Run(ctx)
	go func() {
		r.orch.Run(ctx, time.Duration(r.cfg.Agent.UploadIntervalMS)*time.Millisecond)
		close(r.doneCh)
	}()

	r.startMetrics()
	return nil
}

// Run starts the runtime and blocks until ctx is canceled, then shuts down.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops the metrics server and background loops.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.cancel != nil {
		r.cancel()
	}
	if r.doneCh != nil {
		select {
		case <-r.doneCh:
		case <-ctx.Done():
		}
	}

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	type closer interface{ Close() error }
	if c, ok := r.kv.(closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{Addr: r.cfg.Metrics.Addr, Handler: mux}
	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err)
		}
	}()
}
