// Package fota implements the firmware-over-the-air install state machine:
// a resumable, verified, rollback-capable session over one of two update
// regions.
package fota

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"hash"
	"sync"

	"github.com/fieldlink/invedge/internal/domain"
	"github.com/fieldlink/invedge/internal/ports"
)

const (
	ns              = "fota"
	keyVersion      = "mf.ver"
	keyHash         = "mf.hash"
	keySize         = "mf.size"
	keyWritten      = "bytes_written"
	keyNextChunk    = "next_chunk"
	resumeBlockSize = 1024 // bytes, bounds memory pressure during resume hash rebuild
)

// ProgressFunc is notified after every accepted chunk with the running
// written/total byte counts.
type ProgressFunc func(written, total uint32)

// Engine is the FOTA session state machine. Callers must serialize access;
// it assumes a single writer.
type Engine struct {
	mu       sync.Mutex
	kv       ports.KVStore
	part     ports.UpdatePartition
	reboot   ports.Reboot
	obs      ports.Observability
	progress ProgressFunc

	active            bool
	manifest          domain.Manifest
	handle            ports.UpdateHandle
	region            string
	written           uint32
	nextChunk         uint32
	sha               hash.Hash
	shaActive         bool
	finalizeRequested bool
	finalized         bool
	lastError         string
}

// New returns an idle Engine.
func New(kv ports.KVStore, part ports.UpdatePartition, reboot ports.Reboot, obs ports.Observability, progress ProgressFunc) *Engine {
	if progress == nil {
		progress = func(uint32, uint32) {}
	}
	return &Engine{kv: kv, part: part, reboot: reboot, obs: obs, progress: progress}
}

func (e *Engine) persistManifestFresh() {
	e.kv.SetStr(ns, keyVersion, e.manifest.Version)
	e.kv.SetStr(ns, keyHash, e.manifest.HashHex)
	e.kv.SetU64(ns, keySize, uint64(e.manifest.Size))
	e.kv.SetU64(ns, keyWritten, 0)
	e.kv.SetU64(ns, keyNextChunk, 0)
}

func (e *Engine) persistProgress() {
	e.kv.SetU64(ns, keyWritten, uint64(e.written))
	e.kv.SetU64(ns, keyNextChunk, uint64(e.nextChunk))
}

// Start begins or resumes a FOTA session for manifest m. A duplicate of the
// active manifest is a no-op that preserves progress (guards against
// server-side manifest retransmits). A different manifest while a session
// is active aborts the old one first.
func (e *Engine) Start(m domain.Manifest) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active && e.manifest.Equal(m) {
		if e.obs != nil {
			e.obs.LogInfo("fota_start_duplicate_manifest", ports.Field{Key: "version", Value: m.Version})
		}
		return true
	}

	if e.active {
		e.part.End(e.handle)
		e.resetLocked()
	}

	oldVer, _ := e.kv.GetStr(ns, keyVersion)
	oldHash, _ := e.kv.GetStr(ns, keyHash)
	oldSize, _ := e.kv.GetU64(ns, keySize)
	written, _ := e.kv.GetU64(ns, keyWritten)
	nextChunk, _ := e.kv.GetU64(ns, keyNextChunk)

	canResume := oldVer == m.Version && oldHash == m.HashHex &&
		uint32(oldSize) == m.Size && uint32(written) < m.Size

	region, err := e.part.NextUpdateRegion()
	if err != nil {
		e.lastError = "ota-begin"
		return false
	}
	handle, err := e.part.Begin(region, m.Size)
	if err != nil {
		e.lastError = "ota-begin"
		return false
	}

	e.active = true
	e.manifest = m
	e.handle = handle
	e.region = region
	e.finalizeRequested = false
	e.finalized = false
	e.lastError = ""
	e.sha = sha256.New()
	e.shaActive = true

	if canResume && written > 0 {
		if written > uint64(m.Size) {
			written = uint64(m.Size)
		}
		chunksTotal := uint64(0)
		if m.ChunkSize > 0 {
			chunksTotal = (uint64(m.Size) + uint64(m.ChunkSize) - 1) / uint64(m.ChunkSize)
		}
		if nextChunk > chunksTotal {
			nextChunk = 0
		}

		buf := make([]byte, resumeBlockSize)
		var off uint32
		for uint64(off) < written {
			toRead := resumeBlockSize
			if remaining := written - uint64(off); remaining < uint64(toRead) {
				toRead = int(remaining)
			}
			n, rerr := e.part.Read(region, off, buf[:toRead])
			if rerr != nil {
				e.lastError = "resume-read"
				return false
			}
			e.sha.Write(buf[:n])
			off += uint32(n)
		}

		e.written = uint32(written)
		e.nextChunk = uint32(nextChunk)
		if e.obs != nil {
			e.obs.LogInfo("fota_resume", ports.Field{Key: "version", Value: m.Version},
				ports.Field{Key: "written", Value: e.written}, ports.Field{Key: "next_chunk", Value: e.nextChunk})
		}
	} else {
		e.written = 0
		e.nextChunk = 0
		e.persistManifestFresh()
	}

	return true
}

func (e *Engine) resetLocked() {
	e.active = false
	e.manifest = domain.Manifest{}
	e.handle = 0
	e.region = ""
	e.written = 0
	e.nextChunk = 0
	e.sha = nil
	e.shaActive = false
	e.finalizeRequested = false
	e.finalized = false
	e.progress(0, 0)
}

// IngestChunk accepts chunk number with base64-encoded bytes, enforcing
// strict ordering and size bounds.
func (e *Engine) IngestChunk(number uint32, b64Data string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active || e.finalized || !e.shaActive {
		return false
	}
	if number != e.nextChunk {
		e.lastError = "out-of-order"
		return false
	}

	bin, err := base64.StdEncoding.DecodeString(b64Data)
	if err != nil || len(bin) == 0 {
		e.lastError = "bad-b64"
		return false
	}
	if uint64(e.written)+uint64(len(bin)) > uint64(e.manifest.Size) {
		e.lastError = "overflow"
		return false
	}

	if err := e.part.Write(e.handle, bin); err != nil {
		e.lastError = "ota-write"
		return false
	}

	e.sha.Write(bin)
	e.written += uint32(len(bin))
	e.nextChunk = number + 1
	e.persistProgress()
	e.progress(e.written, e.manifest.Size)

	if e.written == e.manifest.Size {
		e.finalizeRequested = true
	}
	return true
}

// FinalizeAndApply verifies the completed image against the manifest hash
// and, on a match, switches the boot partition and hands off to reboot.
// attempted reports whether a finalize attempt actually ran this call.
func (e *Engine) FinalizeAndApply() (attempted, verifyOK, applyOK bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active || e.finalized || !e.shaActive || e.written != e.manifest.Size {
		return false, false, false
	}

	sum := e.sha.Sum(nil)
	e.shaActive = false

	want, decErr := hex.DecodeString(e.manifest.HashHex)
	verified := decErr == nil && len(e.manifest.HashHex) == 64 && len(want) == 32 && bytes.Equal(sum, want)

	e.part.End(e.handle)

	if !verified {
		if decErr != nil || len(e.manifest.HashHex) != 64 {
			e.lastError = "bad-hash-format"
		} else {
			e.lastError = "hash-mismatch"
		}
		e.finalized = true
		e.kv.SetU64(ns, keyWritten, 0)
		e.kv.SetU64(ns, keyNextChunk, 0)
		e.progress(0, 0)
		if e.obs != nil {
			e.obs.LogError("fota_verify_failed", nil, ports.Field{Key: "version", Value: e.manifest.Version})
		}
		return true, false, false
	}

	e.finalized = true
	e.kv.SetU64(ns, keyWritten, 0)
	e.kv.SetU64(ns, keyNextChunk, 0)
	e.progress(0, 0)

	if err := e.part.SetBoot(e.region); err != nil {
		e.lastError = "set-boot"
		return true, true, false
	}

	if e.obs != nil {
		e.obs.LogInfo("fota_apply_success", ports.Field{Key: "version", Value: e.manifest.Version})
	}
	if e.reboot != nil {
		e.reboot.Reboot()
	}
	return true, true, true
}

// RollbackPending reports whether the running image is awaiting its first
// liveness confirmation after a FOTA apply.
func (e *Engine) RollbackPending() (region string, pending bool) {
	region, state := e.part.RunningRegionState()
	return region, domain.RegionState(state) == domain.RegionPendingVerify
}

// MarkBootValid confirms the running image's liveness criterion was met.
func (e *Engine) MarkBootValid() error {
	return e.part.MarkValid()
}

type statusFields struct {
	Active            bool   `json:"active"`
	Version           string `json:"version"`
	Written           uint32 `json:"written"`
	Total             uint32 `json:"total"`
	NextChunk         uint32 `json:"next_chunk"`
	FinalizeRequested bool   `json:"finalize_requested"`
	Finalized         bool   `json:"finalized"`
	Error             string `json:"error"`
}

type statusEnvelope struct {
	FotaStatus statusFields `json:"fota_status"`
}

// StatusJSON returns the compact progress object carried from the
// firmware's status_json shape.
func (e *Engine) StatusJSON() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	out, _ := json.Marshal(statusEnvelope{FotaStatus: statusFields{
		Active:            e.active,
		Version:           e.manifest.Version,
		Written:           e.written,
		Total:             e.manifest.Size,
		NextChunk:         e.nextChunk,
		FinalizeRequested: e.finalizeRequested,
		Finalized:         e.finalized,
		Error:             e.lastError,
	}})
	return out
}
