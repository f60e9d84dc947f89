// Package kvstore implements a namespaced key/value store over an
// append-only, length-prefixed log file: every Set appends a record, and
// the store is rebuilt by replaying the log on open.
package kvstore

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const recordHeaderLen = 4 // length of the JSON record that follows

type record struct {
	NS    string `json:"ns"`
	Key   string `json:"key"`
	SVal  string `json:"s,omitempty"`
	UVal  uint64 `json:"u,omitempty"`
	IsStr bool   `json:"is_str"`
}

// FileKV is a crash-safe, namespaced key/value store backed by a single
// append-only log file, keyed by (namespace, key).
type FileKV struct {
	mu   sync.Mutex
	path string
	file *os.File
	strs map[string]string
	ints map[string]uint64
}

func nsKey(ns, key string) string { return ns + "\x00" + key }

// New opens (or creates) the store at dir/kv.log and replays it.
func New(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "kv.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	kv := &FileKV{
		path: path,
		file: f,
		strs: make(map[string]string),
		ints: make(map[string]uint64),
	}
	if err := kv.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return kv, nil
}

// Init is idempotent; the store is already usable after New, but callers
// expect an explicit Init step per the KVStore port contract.
func (kv *FileKV) Init() error { return nil }

func (kv *FileKV) replay() error {
	if _, err := kv.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(kv.file)
	var offset int64
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				if err := kv.file.Truncate(offset); err != nil {
					return err
				}
				break
			}
			return fmt.Errorf("kv replay header: %w", err)
		}
		length := binary.BigEndian.Uint32(hdr[:])
		offset += recordHeaderLen

		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if err := kv.file.Truncate(offset); err != nil {
					return err
				}
				break
			}
			return fmt.Errorf("kv replay body: %w", err)
		}
		offset += int64(length)

		var rec record
		if err := json.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("kv replay corrupt record: %w", err)
		}
		k := nsKey(rec.NS, rec.Key)
		if rec.IsStr {
			kv.strs[k] = rec.SVal
		} else {
			kv.ints[k] = rec.UVal
		}
	}
	_, err := kv.file.Seek(0, io.SeekEnd)
	return err
}

func (kv *FileKV) appendLocked(rec record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := kv.file.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := kv.file.Write(body); err != nil {
		return err
	}
	return nil
}

func (kv *FileKV) GetU64(ns, key string) (uint64, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.ints[nsKey(ns, key)]
	return v, ok
}

func (kv *FileKV) SetU64(ns, key string, v uint64) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.appendLocked(record{NS: ns, Key: key, UVal: v}); err != nil {
		return err
	}
	kv.ints[nsKey(ns, key)] = v
	return nil
}

func (kv *FileKV) GetStr(ns, key string) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.strs[nsKey(ns, key)]
	return v, ok
}

func (kv *FileKV) SetStr(ns, key string, v string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.appendLocked(record{NS: ns, Key: key, SVal: v, IsStr: true}); err != nil {
		return err
	}
	kv.strs[nsKey(ns, key)] = v
	return nil
}

// Close flushes and closes the backing file.
func (kv *FileKV) Close() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.file.Close()
}
