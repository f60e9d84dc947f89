package kvstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileKVSetGetAndReplay(t *testing.T) {
	dir := t.TempDir()

	kv, err := New(dir)
	if err != nil {
		t.Fatalf("new kv: %v", err)
	}

	if err := kv.SetU64("sec", "nonce_device", 7); err != nil {
		t.Fatalf("set u64: %v", err)
	}
	if err := kv.SetStr("fota", "mf.hash", "deadbeef"); err != nil {
		t.Fatalf("set str: %v", err)
	}

	if v, ok := kv.GetU64("sec", "nonce_device"); !ok || v != 7 {
		t.Fatalf("expected nonce_device=7, got %d ok=%v", v, ok)
	}
	if _, ok := kv.GetU64("sec", "missing"); ok {
		t.Fatalf("expected missing key to report ok=false")
	}

	if err := kv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	kv2, err := New(dir)
	if err != nil {
		t.Fatalf("reopen kv: %v", err)
	}
	defer kv2.Close()

	if v, ok := kv2.GetU64("sec", "nonce_device"); !ok || v != 7 {
		t.Fatalf("expected replayed nonce_device=7, got %d ok=%v", v, ok)
	}
	if v, ok := kv2.GetStr("fota", "mf.hash"); !ok || v != "deadbeef" {
		t.Fatalf("expected replayed mf.hash=deadbeef, got %q ok=%v", v, ok)
	}
}

func TestFileKVOverwriteKeepsLatestValue(t *testing.T) {
	dir := t.TempDir()
	kv, err := New(dir)
	if err != nil {
		t.Fatalf("new kv: %v", err)
	}
	defer kv.Close()

	kv.SetU64("sec", "nonce_cloud", 1)
	kv.SetU64("sec", "nonce_cloud", 2)
	kv.SetU64("sec", "nonce_cloud", 3)

	if v, _ := kv.GetU64("sec", "nonce_cloud"); v != 3 {
		t.Fatalf("expected latest value 3, got %d", v)
	}
}

func TestFileKVSurvivesTrailingGarbage(t *testing.T) {
	dir := t.TempDir()
	kv, err := New(dir)
	if err != nil {
		t.Fatalf("new kv: %v", err)
	}
	kv.SetU64("sec", "nonce_device", 42)
	if err := kv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	path := filepath.Join(dir, "kv.log")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open for garbage append: %v", err)
	}
	if _, err := f.Write([]byte{0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close garbage writer: %v", err)
	}

	kv2, err := New(dir)
	if err != nil {
		t.Fatalf("reopen after garbage: %v", err)
	}
	defer kv2.Close()

	if v, ok := kv2.GetU64("sec", "nonce_device"); !ok || v != 42 {
		t.Fatalf("expected surviving value 42, got %d ok=%v", v, ok)
	}
}
