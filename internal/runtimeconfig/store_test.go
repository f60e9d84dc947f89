package runtimeconfig

import (
	"testing"

	"github.com/fieldlink/invedge/internal/adapters/kvstore"
	"github.com/fieldlink/invedge/internal/domain"
)

func newKV(t *testing.T) *kvstore.FileKV {
	t.Helper()
	kv, err := kvstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("new kv: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestStageDoesNotApplyUntilAdopted(t *testing.T) {
	kv := newKV(t)
	s := New(kv, domain.RuntimeConfig{SamplingIntervalMS: 1000})

	s.Stage(domain.RuntimeConfig{SamplingIntervalMS: 5000})

	if got := s.Current().SamplingIntervalMS; got != 1000 {
		t.Fatalf("expected current to stay 1000 before adopt, got %d", got)
	}

	if adopted := s.AdoptStaged(); !adopted {
		t.Fatalf("expected AdoptStaged to report true")
	}
	if got := s.Current().SamplingIntervalMS; got != 5000 {
		t.Fatalf("expected current 5000 after adopt, got %d", got)
	}
}

func TestAdoptStagedWithNothingStagedReportsFalse(t *testing.T) {
	kv := newKV(t)
	s := New(kv, domain.RuntimeConfig{SamplingIntervalMS: 1000})

	if adopted := s.AdoptStaged(); adopted {
		t.Fatalf("expected AdoptStaged to report false with nothing staged")
	}
	if got := s.Current().SamplingIntervalMS; got != 1000 {
		t.Fatalf("expected current to stay 1000, got %d", got)
	}
}

func TestAdoptedConfigPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	kv, err := kvstore.New(dir)
	if err != nil {
		t.Fatalf("new kv: %v", err)
	}

	s := New(kv, domain.RuntimeConfig{SamplingIntervalMS: 1000})
	s.Stage(domain.RuntimeConfig{SamplingIntervalMS: 2500, Fields: []domain.FieldID{domain.VAC1, domain.PAC}})
	s.AdoptStaged()
	kv.Close()

	kv2, err := kvstore.New(dir)
	if err != nil {
		t.Fatalf("reopen kv: %v", err)
	}
	defer kv2.Close()

	s2 := New(kv2, domain.RuntimeConfig{SamplingIntervalMS: 1000})
	cur := s2.Current()
	if cur.SamplingIntervalMS != 2500 {
		t.Fatalf("expected persisted sampling interval 2500, got %d", cur.SamplingIntervalMS)
	}
	if len(cur.Fields) != 2 || cur.Fields[0] != domain.VAC1 || cur.Fields[1] != domain.PAC {
		t.Fatalf("expected persisted fields [VAC1 PAC], got %v", cur.Fields)
	}
}

func TestCurrentReturnsIndependentCopy(t *testing.T) {
	kv := newKV(t)
	s := New(kv, domain.RuntimeConfig{SamplingIntervalMS: 1000, Fields: []domain.FieldID{domain.VAC1}})

	cur := s.Current()
	cur.Fields[0] = domain.PAC

	again := s.Current()
	if again.Fields[0] != domain.VAC1 {
		t.Fatalf("mutating a returned copy must not affect the store, got %v", again.Fields[0])
	}
}
