// Package orchestrator implements the uplink orchestrator: the per-slot
// flow that drains the ring, encodes a batch, wraps it in the security
// envelope, posts it to the cloud, and dispatches whatever the reply
// contains back into the runtime configuration, the device client, and the
// FOTA engine. It owns the device client's fault sink and the FOTA engine
// directly rather than holding a back-pointer to either.
package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/fieldlink/invedge/internal/batch"
	"github.com/fieldlink/invedge/internal/device"
	"github.com/fieldlink/invedge/internal/domain"
	"github.com/fieldlink/invedge/internal/fota"
	"github.com/fieldlink/invedge/internal/ports"
	"github.com/fieldlink/invedge/internal/ring"
	"github.com/fieldlink/invedge/internal/runtimeconfig"
	"github.com/fieldlink/invedge/internal/security"
)

// CloudUploader is the subset of the cloud transport the orchestrator needs.
type CloudUploader interface {
	Upload(ctx context.Context, body []byte) ([]byte, error)
}

// Commander is the subset of the device client the orchestrator uses to
// execute staged commands.
type Commander interface {
	SetExportPower(ctx context.Context, percent int, reason string) bool
}

const (
	secNamespace   = "sec"
	keyNonceDevice = "nonce_device"
	keyNonceCloud  = "nonce_cloud"
)

// faultBuffer is the device client's fault sink, owned and drained by the
// orchestrator once per slot.
type faultBuffer struct {
	mu     sync.Mutex
	faults []device.Fault
	obs    ports.Observability
}

func (f *faultBuffer) ReportFault(flt device.Fault) {
	f.mu.Lock()
	f.faults = append(f.faults, flt)
	f.mu.Unlock()
	if f.obs != nil {
		f.obs.IncCounter("invedge_device_faults_total", 1)
	}
}

func (f *faultBuffer) drain() []device.Fault {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.faults
	f.faults = nil
	return out
}

// NewFaultSink returns the fault sink to hand to device.New; Orchestrator
// drains it at the top of every slot's appendix merge. obs may be nil.
func NewFaultSink(obs ports.Observability) device.FaultSink { return &faultBuffer{obs: obs} }

// Config bundles the fixed collaborators and options an Orchestrator needs.
type Config struct {
	DeviceID          string
	Cloud             CloudUploader
	CfgStore          *runtimeconfig.Store
	Ring              *ring.Ring
	KV                ports.KVStore
	Clock             ports.Clock
	Obs               ports.Observability
	FOTA              *fota.Engine
	Commander         Commander
	Faults            device.FaultSink
	TransportFailures func() uint64
	SecurityEnabled   bool
	PSK               []byte
}

// Orchestrator drives one upload slot at a time.
type Orchestrator struct {
	deviceID   string
	cloud      CloudUploader
	cfgStore   *runtimeconfig.Store
	ringBuf    *ring.Ring
	kv         ports.KVStore
	clock      ports.Clock
	obs        ports.Observability
	fota       *fota.Engine
	cmd        Commander
	faults     *faultBuffer
	failureCtr func() uint64

	securityEnabled bool
	psk             []byte
	deviceNonce     uint64
	cloudNonce      uint64

	pendingCommand    *int
	lastCommandResult *commandResultPayload
	fotaReport        *fotaReportPayload
	bootAck           *bool
	configAckPending  *configAckPayload
	bootOutcomeDone   bool
}

// New constructs an Orchestrator, loading persisted nonces from the KV store.
func New(c Config) *Orchestrator {
	fb, _ := c.Faults.(*faultBuffer)
	o := &Orchestrator{
		deviceID:        c.DeviceID,
		cloud:           c.Cloud,
		cfgStore:        c.CfgStore,
		ringBuf:         c.Ring,
		kv:              c.KV,
		clock:           c.Clock,
		obs:             c.Obs,
		fota:            c.FOTA,
		cmd:             c.Commander,
		faults:          fb,
		failureCtr:      c.TransportFailures,
		securityEnabled: c.SecurityEnabled,
		psk:             c.PSK,
	}
	if v, ok := c.KV.GetU64(secNamespace, keyNonceDevice); ok {
		o.deviceNonce = v
	}
	if v, ok := c.KV.GetU64(secNamespace, keyNonceCloud); ok {
		o.cloudNonce = v
	}
	return o
}

// Run fires RunSlot every interval until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.RunSlot(ctx); err != nil && o.obs != nil {
				o.obs.LogError("uplink_slot_failed", err)
			}
		}
	}
}

// RunSlot executes one complete upload slot: adopt staged config, drain and
// encode the ring, merge one-shot appendices, wrap, upload, dispatch the
// reply, finalize any completed FOTA session, and execute any staged
// command.
func (o *Orchestrator) RunSlot(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if o.obs != nil {
			o.obs.ObserveLatency("uplink_slot_latency_seconds", time.Since(start).Seconds())
		}
	}()

	o.cfgStore.AdoptStaged()

	recs := o.ringBuf.SnapshotAndClear()
	body := o.buildBody(recs)
	o.mergeAppendices(body, recs)

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	outgoing := raw
	if o.securityEnabled {
		o.deviceNonce++
		o.kv.SetU64(secNamespace, keyNonceDevice, o.deviceNonce)
		wrapped, werr := security.Wrap(raw, o.psk, o.deviceNonce)
		if werr != nil {
			return werr
		}
		outgoing = wrapped
	}

	reply, err := o.cloud.Upload(ctx, outgoing)
	if err != nil {
		return err
	}

	// A completed round trip with the cloud is the "one successful uplink"
	// liveness criterion: the running image can talk to the outside world,
	// so a pending FOTA rollback-verify is cleared here rather than at
	// process start, where nothing has actually run yet.
	o.ReportBootOutcome(true)

	inner := reply
	if o.securityEnabled {
		in, uerr := security.UnwrapAndVerify(reply, o.psk, &o.cloudNonce, true)
		if uerr != nil {
			if o.obs != nil {
				o.obs.LogError("envelope_reject", uerr)
			}
			o.kv.SetU64(secNamespace, keyNonceCloud, o.cloudNonce)
			return nil // best-effort: slot completes without applying the reply
		}
		o.kv.SetU64(secNamespace, keyNonceCloud, o.cloudNonce)
		inner = in
	}

	o.dispatchReply(inner)

	if attempted, verifyOK, applyOK := o.fota.FinalizeAndApply(); attempted {
		o.fotaReport = &fotaReportPayload{VerifyOK: &verifyOK, ApplyOK: &applyOK}
	}

	if o.pendingCommand != nil {
		percent := *o.pendingCommand
		o.pendingCommand = nil
		ok := o.cmd.SetExportPower(ctx, percent, "cloud command")
		o.lastCommandResult = &commandResultPayload{Status: statusFor(ok), ExecutedAt: o.clock.EpochMS(), Value: percent}
	}

	return nil
}

func statusFor(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}

// ReportBootOutcome is called once per process lifetime, the first time the
// chosen liveness criterion (here: one successful uplink) is met: if the
// running image was pending verification and the liveness check passed, it
// marks the image valid and stages a one-shot boot acknowledgement for the
// next slot. Later calls are no-ops so a bad boot can still miss its window
// and roll back on the next reset if the criterion is never met.
func (o *Orchestrator) ReportBootOutcome(live bool) {
	if o.bootOutcomeDone {
		return
	}
	region, pending := o.fota.RollbackPending()
	if !pending || !live {
		return
	}
	o.bootOutcomeDone = true
	if err := o.fota.MarkBootValid(); err == nil {
		ok := true
		o.bootAck = &ok
	} else if o.obs != nil {
		o.obs.LogError("boot_mark_valid_failed", err, ports.Field{Key: "region", Value: region})
	}
}

func (o *Orchestrator) buildBody(recs []domain.TimestampedRecord) *uploadBody {
	b := &uploadBody{
		DeviceID: o.deviceID,
		Seq:      0,
	}
	if len(recs) == 0 {
		b.Codec = "none"
		return b
	}

	b.TSStart = recs[0].EpochMS
	b.TSEnd = recs[len(recs)-1].EpochMS
	b.Codec = "delta_rle_v1"
	b.Fields = append(b.Fields, domain.FieldNames[:]...)
	for _, r := range recs {
		b.Timestamps = append(b.Timestamps, r.EpochMS)
	}

	bres := batch.RunBenchmark(recs)
	blob := batch.Encode(recs)
	b.Blob = base64.StdEncoding.EncodeToString(blob)
	b.OrigSamples = len(recs)
	b.OrigBytes = bres.OrigBytes
	lossless := bres.LosslessOK
	b.LosslessOK = &lossless
	if !lossless && o.obs != nil {
		o.obs.LogCritical("batch_self_check_failed", nil, ports.Field{Key: "n_samples", Value: len(recs)})
	}
	return b
}

func (o *Orchestrator) mergeAppendices(b *uploadBody, recs []domain.TimestampedRecord) {
	if o.lastCommandResult != nil {
		b.CommandResult = o.lastCommandResult
		o.lastCommandResult = nil
	}

	if o.configAckPending != nil {
		b.ConfigAck = o.configAckPending
		o.configAckPending = nil
	}

	var status struct {
		FotaStatus struct {
			Active    bool   `json:"active"`
			Version   string `json:"version"`
			Written   uint32 `json:"written"`
			Total     uint32 `json:"total"`
			NextChunk uint32 `json:"next_chunk"`
			Error     string `json:"error"`
		} `json:"fota_status"`
	}
	if raw := o.fota.StatusJSON(); json.Unmarshal(raw, &status) == nil &&
		(status.FotaStatus.Active || o.fotaReport != nil || o.bootAck != nil) {
		fa := &fotaAppendix{
			Active:    status.FotaStatus.Active,
			Version:   status.FotaStatus.Version,
			Written:   status.FotaStatus.Written,
			Total:     status.FotaStatus.Total,
			NextChunk: status.FotaStatus.NextChunk,
			Error:     status.FotaStatus.Error,
		}
		if o.fotaReport != nil {
			fa.VerifyOK = o.fotaReport.VerifyOK
			fa.ApplyOK = o.fotaReport.ApplyOK
			o.fotaReport = nil
		}
		if o.bootAck != nil {
			fa.BootOK = o.bootAck
			o.bootAck = nil
		}
		b.FOTA = fa
	}

	if o.faults != nil {
		if faults := o.faults.drain(); len(faults) > 0 {
			for _, f := range faults {
				b.SimFault = append(b.SimFault, simFaultPayload{Kind: f.Kind, Code: f.Code, Detail: f.Detail})
				b.Events = append(b.Events, "fault:"+f.Kind)
			}
		}
	}

	dropped := o.ringBuf.TakeDropped()
	diag := &diagPayload{RingDropped: dropped}
	if o.failureCtr != nil {
		diag.TransportFailures = o.failureCtr()
	}
	b.Diag = diag
	if dropped > 0 {
		b.Events = append(b.Events, "buffer_overflow")
	}

	if len(recs) > 0 {
		b.PowerStats = &powerStatsPayload{ExportPercent: recs[len(recs)-1].Sample.ExportPercent}
	}
}

// registerAliases maps every cloud-accepted register spelling to its
// canonical FieldID.
var registerAliases = map[string]domain.FieldID{
	"voltage": domain.VAC1, "vac1": domain.VAC1,
	"current": domain.IAC1, "iac1": domain.IAC1,
	"frequency": domain.FAC1, "fac1": domain.FAC1,
	"vpv1": domain.VPV1,
	"vpv2": domain.VPV2,
	"ipv1": domain.IPV1,
	"ipv2": domain.IPV2,
	"temperature": domain.Temp, "temp": domain.Temp,
	"export_percent": domain.ExportPercent, "export": domain.ExportPercent,
	"pac": domain.PAC, "power": domain.PAC,
}

func (o *Orchestrator) dispatchReply(inner []byte) {
	var payload replyPayload
	if err := json.Unmarshal(inner, &payload); err != nil {
		if o.obs != nil {
			o.obs.LogError("reply_parse_failed", err)
		}
		return
	}

	if payload.ConfigUpdate != nil {
		o.handleConfigUpdate(payload.ConfigUpdate)
	}
	if payload.Command != nil {
		v := payload.Command.SetExportPercent
		o.pendingCommand = &v
	}
	if payload.FOTA != nil {
		if payload.FOTA.Manifest != nil {
			o.fota.Start(*payload.FOTA.Manifest)
		}
		if payload.FOTA.ChunkNumber != nil {
			o.fota.IngestChunk(*payload.FOTA.ChunkNumber, payload.FOTA.Data)
		}
	}
}

func (o *Orchestrator) handleConfigUpdate(cu *configUpdatePayload) {
	cur := o.cfgStore.Current()
	next := cur.Clone()
	ack := &configAckPayload{}

	if cu.SamplingInterval != nil {
		next.SamplingIntervalMS = *cu.SamplingInterval
		ack.Accepted = append(ack.Accepted, "sampling_interval")
	} else {
		ack.Unchanged = append(ack.Unchanged, "sampling_interval")
	}

	if cu.Registers != nil {
		ids, ok := resolveRegisters(cu.Registers)
		if ok {
			next.Fields = ids
			ack.Accepted = append(ack.Accepted, "registers")
		} else {
			ack.Rejected = append(ack.Rejected, "registers")
		}
	} else {
		ack.Unchanged = append(ack.Unchanged, "registers")
	}

	if len(ack.Rejected) == 0 {
		o.cfgStore.Stage(next)
	}
	o.configAckPending = ack
}

// resolveRegisters maps every name to its canonical FieldID; a single
// unknown name rejects the whole list.
func resolveRegisters(names []string) ([]domain.FieldID, bool) {
	seen := make(map[domain.FieldID]bool)
	var ids []domain.FieldID
	for _, n := range names {
		f, ok := registerAliases[n]
		if !ok {
			return nil, false
		}
		if !seen[f] {
			seen[f] = true
			ids = append(ids, f)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, true
}
