// Package runtimeconfig holds the single RuntimeConfig singleton shared
// between the acquisition sampler (reader) and the uplink orchestrator (sole
// writer, at slot boundaries). A configuration staged by the orchestrator
// takes effect only when AdoptStaged is called at the top of the next slot,
// never mid-tick.
package runtimeconfig

import (
	"encoding/json"
	"sync"

	"github.com/fieldlink/invedge/internal/domain"
	"github.com/fieldlink/invedge/internal/ports"
)

const (
	ns      = "cfg"
	keyJSON = "runtime"
)

// Store is the process-wide RuntimeConfig singleton.
type Store struct {
	mu      sync.Mutex
	current domain.RuntimeConfig
	staged  *domain.RuntimeConfig
	kv      ports.KVStore
}

type persisted struct {
	SamplingIntervalMS uint32   `json:"sampling_interval"`
	Fields             []string `json:"fields,omitempty"`
}

// New loads the persisted runtime configuration, falling back to def if none
// exists yet.
func New(kv ports.KVStore, def domain.RuntimeConfig) *Store {
	s := &Store{current: def, kv: kv}
	if raw, ok := kv.GetStr(ns, keyJSON); ok && raw != "" {
		var p persisted
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			s.current = decodePersisted(p)
		}
	}
	return s
}

// Current returns a deep copy of the active configuration.
func (s *Store) Current() domain.RuntimeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Stage records cfg to be adopted at the next slot boundary.
func (s *Store) Stage(cfg domain.RuntimeConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cfg.Clone()
	s.staged = &c
}

// AdoptStaged promotes the staged configuration to current and persists it,
// reporting whether a staged configuration existed.
func (s *Store) AdoptStaged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staged == nil {
		return false
	}
	s.current = *s.staged
	s.staged = nil
	s.persistLocked()
	return true
}

func (s *Store) persistLocked() {
	p := persisted{SamplingIntervalMS: s.current.SamplingIntervalMS}
	for _, f := range s.current.Fields {
		if int(f) >= 0 && int(f) < int(domain.NumFields) {
			p.Fields = append(p.Fields, domain.FieldNames[f])
		}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	s.kv.SetStr(ns, keyJSON, string(raw))
}

func decodePersisted(p persisted) domain.RuntimeConfig {
	cfg := domain.RuntimeConfig{SamplingIntervalMS: p.SamplingIntervalMS}
	for _, name := range p.Fields {
		if f, ok := fieldByName(name); ok {
			cfg.Fields = append(cfg.Fields, f)
		}
	}
	return cfg
}

func fieldByName(name string) (domain.FieldID, bool) {
	for i, n := range domain.FieldNames {
		if n == name {
			return domain.FieldID(i), true
		}
	}
	return 0, false
}
