package updatepartition

import (
	"testing"

	"github.com/fieldlink/invedge/internal/domain"
)

func TestNextUpdateRegionAlternates(t *testing.T) {
	fr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	next, err := fr.NextUpdateRegion()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != regionB {
		t.Fatalf("expected region b as first target, got %s", next)
	}

	if err := fr.SetBoot(regionB); err != nil {
		t.Fatalf("setboot: %v", err)
	}
	next, err = fr.NextUpdateRegion()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != regionA {
		t.Fatalf("expected region a after booting b, got %s", next)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	fr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h, err := fr.Begin(regionB, 5)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fr.Write(h, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fr.End(h); err != nil {
		t.Fatalf("end: %v", err)
	}

	buf := make([]byte, 5)
	n, err := fr.Read(regionB, 0, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("unexpected read: %q (%d bytes)", buf, n)
	}
}

func TestBeginAfterRestartResumesAtPriorOffset(t *testing.T) {
	dir := t.TempDir()
	fr, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h, err := fr.Begin(regionB, 10)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fr.Write(h, []byte("abcde")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fr.End(h); err != nil {
		t.Fatalf("end: %v", err)
	}

	// A new FileRegions over the same directory simulates a process restart
	// mid-session: Begin must pick the write cursor back up after the bytes
	// already on disk, not overwrite them from the start.
	fr2, err := New(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	h2, err := fr2.Begin(regionB, 10)
	if err != nil {
		t.Fatalf("begin after restart: %v", err)
	}
	if err := fr2.Write(h2, []byte("fghij")); err != nil {
		t.Fatalf("write after restart: %v", err)
	}
	if err := fr2.End(h2); err != nil {
		t.Fatalf("end: %v", err)
	}

	buf := make([]byte, 10)
	n, err := fr2.Read(regionB, 0, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 10 || string(buf) != "abcdefghij" {
		t.Fatalf("expected resumed write to append after prior bytes, got %q (%d bytes)", buf, n)
	}
}

func TestSetBootThenMarkValid(t *testing.T) {
	fr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := fr.SetBoot(regionB); err != nil {
		t.Fatalf("setboot: %v", err)
	}
	region, state := fr.RunningRegionState()
	if region != regionB {
		t.Fatalf("expected running region b, got %s", region)
	}
	if domain.RegionState(state) != domain.RegionPendingVerify {
		t.Fatalf("expected pending_verify, got %v", domain.RegionState(state))
	}

	if err := fr.MarkValid(); err != nil {
		t.Fatalf("markvalid: %v", err)
	}
	_, state = fr.RunningRegionState()
	if domain.RegionState(state) != domain.RegionValid {
		t.Fatalf("expected valid, got %v", domain.RegionState(state))
	}
}

func TestDefaultRunningRegionIsFreshA(t *testing.T) {
	fr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	region, state := fr.RunningRegionState()
	if region != regionA {
		t.Fatalf("expected default region a, got %s", region)
	}
	if domain.RegionState(state) != domain.RegionFresh {
		t.Fatalf("expected fresh, got %v", domain.RegionState(state))
	}
}
