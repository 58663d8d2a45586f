// Package memory provides the persistent key-value memory an agent keeps
// across runs. Every write is a whole-value upsert of a single key, so
// concurrent writers to different keys never interfere and writers to the
// same key are serialized by the store.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for a key that has never been set.
var ErrNotFound = errors.New("memory: key not found")

// Entry is one remembered value.
type Entry struct {
	Key       string    `json:"key" yaml:"key"`
	Value     string    `json:"value" yaml:"value"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Store is the memory interface the agent loop and tools depend on.
type Store interface {
	// Get returns the entry for key, or ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)
	// Set creates or replaces the value for key.
	Set(ctx context.Context, key, value string) error
	// List returns all entries, most recently updated first.
	List(ctx context.Context) ([]Entry, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// ValidateKey rejects keys that cannot be stored.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("memory: key must not be empty")
	}
	return nil
}

// SortEntries orders entries most recently updated first, then by key.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		}
		return entries[i].Key < entries[j].Key
	})
}

// MemStore is an in-process Store. It is safe for concurrent use.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemStore creates an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]Entry), now: time.Now}
}

func (s *MemStore) Get(ctx context.Context, key string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemStore) Set(ctx context.Context, key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry{Key: key, Value: value, UpdatedAt: s.now().UTC()}
	return nil
}

func (s *MemStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	SortEntries(out)
	return out, nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemStore) Close() error { return nil }
