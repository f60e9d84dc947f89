// Package updatepartition is the default ports.UpdatePartition: it simulates
// the device's two flash update regions (A/B slots) with two on-disk files
// plus small marker files for which region is currently running and each
// region's rollback-verification state.
// There is no real bootloader in this environment, so SetBoot takes effect
// immediately instead of at the next physical reset — that is the one place
// this adapter diverges from real hardware, and it is documented here
// rather than guessed at silently.
package updatepartition

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fieldlink/invedge/internal/domain"
	"github.com/fieldlink/invedge/internal/ports"
)

const (
	regionA = "a"
	regionB = "b"
)

type handleInfo struct {
	region string
	file   *os.File
}

// FileRegions implements ports.UpdatePartition against a directory holding
// two region images and small state marker files.
type FileRegions struct {
	dir string

	mu      sync.Mutex
	next    int
	handles map[int]*handleInfo
}

// New prepares (or reuses) the region directory, defaulting the running
// region to "a" the first time it is used.
func New(dir string) (*FileRegions, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fr := &FileRegions{dir: dir, handles: make(map[int]*handleInfo)}
	if _, err := os.Stat(fr.markerPath("running")); os.IsNotExist(err) {
		if err := fr.writeMarker("running", regionA); err != nil {
			return nil, err
		}
	}
	return fr, nil
}

func (fr *FileRegions) regionImagePath(region string) string {
	return filepath.Join(fr.dir, "region_"+region+".bin")
}

func (fr *FileRegions) markerPath(name string) string {
	return filepath.Join(fr.dir, name+".txt")
}

func (fr *FileRegions) readMarker(name, def string) string {
	b, err := os.ReadFile(fr.markerPath(name))
	if err != nil {
		return def
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return def
	}
	return v
}

func (fr *FileRegions) writeMarker(name, value string) error {
	return os.WriteFile(fr.markerPath(name), []byte(value), 0o644)
}

func (fr *FileRegions) stateMarkerName(region string) string { return "state_" + region }

// NextUpdateRegion returns the region that is not currently running (the
// A/B "other slot").
func (fr *FileRegions) NextUpdateRegion() (string, error) {
	running := fr.readMarker("running", regionA)
	if running == regionA {
		return regionB, nil
	}
	return regionA, nil
}

// Begin opens the target region's image and returns a handle positioned at
// the end of whatever bytes the image already holds. The region is never
// truncated: a fresh region is an empty file, so the cursor lands at 0, and
// a region left over from an interrupted session already holds its
// previously-written prefix, so the cursor lands right after it. That makes
// Write always append from wherever a prior session (or this one) left off,
// which is what lets a resumed session pick its chunks up mid-image instead
// of overwriting the start of the file with the first post-resume Write
// (see internal/fota for the resume contract — it rebuilds its streaming
// hash over the same prefix via Read before any new Write happens).
func (fr *FileRegions) Begin(region string, size uint32) (ports.UpdateHandle, error) {
	f, err := os.OpenFile(fr.regionImagePath(region), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return 0, err
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.next++
	h := fr.next
	fr.handles[h] = &handleInfo{region: region, file: f}
	return ports.UpdateHandle(h), nil
}

func (fr *FileRegions) Write(h ports.UpdateHandle, p []byte) error {
	fr.mu.Lock()
	info, ok := fr.handles[int(h)]
	fr.mu.Unlock()
	if !ok {
		return fmt.Errorf("updatepartition: unknown handle %d", h)
	}
	_, err := info.file.Write(p)
	return err
}

func (fr *FileRegions) Read(region string, offset uint32, p []byte) (int, error) {
	f, err := os.Open(fr.regionImagePath(region))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.ReadAt(p, int64(offset))
}

func (fr *FileRegions) End(h ports.UpdateHandle) error {
	fr.mu.Lock()
	info, ok := fr.handles[int(h)]
	delete(fr.handles, int(h))
	fr.mu.Unlock()
	if !ok {
		return fmt.Errorf("updatepartition: unknown handle %d", h)
	}
	return info.file.Close()
}

// SetBoot marks region as the one to run, and stages it pending-verify.
// Real hardware would only switch at the next reset; this adapter switches
// immediately (see package doc).
func (fr *FileRegions) SetBoot(region string) error {
	if err := fr.writeMarker("running", region); err != nil {
		return err
	}
	return fr.writeMarker(fr.stateMarkerName(region), stateToString(domain.RegionPendingVerify))
}

// RunningRegionState returns the currently running region and its state.
func (fr *FileRegions) RunningRegionState() (string, int) {
	running := fr.readMarker("running", regionA)
	state := fr.readMarker(fr.stateMarkerName(running), stateToString(domain.RegionFresh))
	return running, int(stateFromString(state))
}

// MarkValid marks the running region as having passed its liveness check.
func (fr *FileRegions) MarkValid() error {
	running := fr.readMarker("running", regionA)
	return fr.writeMarker(fr.stateMarkerName(running), stateToString(domain.RegionValid))
}

func stateToString(s domain.RegionState) string { return s.String() }

func stateFromString(s string) domain.RegionState {
	switch s {
	case "pending_verify":
		return domain.RegionPendingVerify
	case "valid":
		return domain.RegionValid
	case "invalid":
		return domain.RegionInvalid
	default:
		return domain.RegionFresh
	}
}
