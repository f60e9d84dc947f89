package orchestrator

import "github.com/fieldlink/invedge/internal/domain"

// uploadBody is the per-slot JSON body posted to the cloud: the batch, its
// framing, and whatever one-shot appendices this slot happens to carry.
type uploadBody struct {
	DeviceID string `json:"device_id"`
	TSStart  uint64 `json:"ts_start,omitempty"`
	TSEnd    uint64 `json:"ts_end,omitempty"`
	Seq      int    `json:"seq"`
	Codec    string `json:"codec"`

	Fields     []string `json:"fields,omitempty"`
	Timestamps []uint64 `json:"timestamps,omitempty"`
	Blob       string   `json:"blob,omitempty"`

	OrigSamples int   `json:"orig_samples,omitempty"`
	OrigBytes   int   `json:"orig_bytes,omitempty"`
	LosslessOK  *bool `json:"lossless_ok,omitempty"`

	CommandResult *commandResultPayload `json:"command_result,omitempty"`
	FOTA          *fotaAppendix         `json:"fota,omitempty"`
	ConfigAck     *configAckPayload     `json:"config_ack,omitempty"`
	SimFault      []simFaultPayload     `json:"sim_fault,omitempty"`
	PowerStats    *powerStatsPayload    `json:"power_stats,omitempty"`
	Diag          *diagPayload          `json:"diag,omitempty"`
	Events        []string              `json:"events,omitempty"`
}

// fotaAppendix carries the FOTA engine's continuous progress plus whatever
// one-shot verify/apply/boot outcome happened to land this slot.
type fotaAppendix struct {
	Active    bool   `json:"active"`
	Version   string `json:"version,omitempty"`
	Written   uint32 `json:"written"`
	Total     uint32 `json:"total"`
	NextChunk uint32 `json:"next_chunk"`
	Error     string `json:"error,omitempty"`

	VerifyOK *bool `json:"verify_ok,omitempty"`
	ApplyOK  *bool `json:"apply_ok,omitempty"`
	BootOK   *bool `json:"boot_ok,omitempty"`
}

// fotaReportPayload holds a finalize outcome until it's merged into the next
// slot's fotaAppendix, then is discarded.
type fotaReportPayload struct {
	VerifyOK *bool
	ApplyOK  *bool
}

// configAckPayload reports which config_update fields were accepted,
// rejected, or left unchanged this slot.
type configAckPayload struct {
	Accepted  []string `json:"accepted,omitempty"`
	Rejected  []string `json:"rejected,omitempty"`
	Unchanged []string `json:"unchanged,omitempty"`
}

type simFaultPayload struct {
	Kind   string `json:"kind"`
	Code   byte   `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type powerStatsPayload struct {
	ExportPercent uint16 `json:"export_percent"`
}

type diagPayload struct {
	RingDropped       uint32 `json:"ring_dropped"`
	TransportFailures uint64 `json:"transport_failures"`
}

type commandResultPayload struct {
	Status     string `json:"status"`
	ExecutedAt uint64 `json:"executed_at"`
	Value      int    `json:"value"`
}

// replyPayload is the cloud reply's inner payload, parsed with a real typed
// decoder rather than substring scanning. Unknown keys are ignored.
type replyPayload struct {
	ConfigUpdate *configUpdatePayload `json:"config_update,omitempty"`
	Command      *commandPayload      `json:"command,omitempty"`
	FOTA         *fotaReplyPayload    `json:"fota,omitempty"`
}

type configUpdatePayload struct {
	SamplingInterval *uint32  `json:"sampling_interval,omitempty"`
	Registers        []string `json:"registers,omitempty"`
}

type commandPayload struct {
	SetExportPercent int `json:"set_export_percent"`
}

type fotaReplyPayload struct {
	Manifest    *domain.Manifest `json:"manifest,omitempty"`
	ChunkNumber *uint32          `json:"chunk_number,omitempty"`
	Data        string           `json:"data,omitempty"`
}
