// Package credentials keeps the speech-provider API key in a small local
// key-value file and hands it out to callers one request at a time.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// OpenAIKey is the store key written at session start.
const OpenAIKey = "openai_api_key"

const fileName = "credentials.json"

var ErrNoCredential = errors.New("credentials: no api key configured")

type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// FileStore is a JSON object on disk. Every call reads or rewrites the whole
// file; there are only ever a handful of keys.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, fileName)}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return m, nil
}

func (s *FileStore) save(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = value
	return s.save(m)
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return s.save(m)
}

// MemoryStore is a Store for tests and headless runs.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: map[string]string{}}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

// Lease holds a key for the duration of one provider call.
type Lease struct {
	Value   string
	once    sync.Once
	release func()
}

// Release is safe to call more than once.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}

type KeySource interface {
	Acquire(ctx context.Context) (*Lease, error)
}

// Vault reads one key from a Store on every Acquire, so a key written by a
// new session is picked up by the next provider call.
type Vault struct {
	store    Store
	key      string
	fallback string
	active   atomic.Int64
}

// NewVault serves key from store, or fallback when the store has none.
func NewVault(store Store, key, fallback string) *Vault {
	return &Vault{store: store, key: key, fallback: fallback}
}

func (v *Vault) Set(value string) error {
	if value == "" {
		return nil
	}
	return v.store.Set(v.key, value)
}

func (v *Vault) Acquire(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, ok, err := v.store.Get(v.key)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", v.key, err)
	}
	if !ok || val == "" {
		val = v.fallback
	}
	if val == "" {
		return nil, ErrNoCredential
	}
	v.active.Add(1)
	return &Lease{Value: val, release: func() { v.active.Add(-1) }}, nil
}

// Outstanding reports leases not yet released.
func (v *Vault) Outstanding() int64 { return v.active.Load() }

// Static serves a fixed key, typically from the environment.
type Static string

func (s Static) Acquire(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == "" {
		return nil, ErrNoCredential
	}
	return &Lease{Value: string(s)}, nil
}
