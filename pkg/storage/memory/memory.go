// Package memory provides in-memory implementations of the storage
// contracts for testing and single-process deployments. Data is lost when
// the process restarts.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelgate/modelgate/pkg/storage"
)

// entry holds a stored value and its optional expiry.
type entry struct {
	value     []byte
	expiresAt time.Time // zero = never expires
}

// KV is an in-memory storage.KV with lazy TTL expiry: expired entries are
// dropped when read or listed, not by a background sweeper.
type KV struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

var _ storage.KV = (*KV)(nil)

// NewKV creates an empty in-memory key-value store.
func NewKV() *KV {
	return &KV{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the value stored under key, or storage.ErrNotFound if the key
// is missing or expired.
func (s *KV) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, storage.ErrNotFound
	}
	if s.expired(e) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, storage.ErrNotFound
	}

	// Copy so callers cannot mutate the stored value.
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Put stores value under key with an optional TTL.
func (s *KV) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	v := make([]byte, len(value))
	copy(v, value)

	e := entry{value: v}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes key. Missing keys are ignored.
func (s *KV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// List returns all live keys beginning with prefix, sorted for stable output.
func (s *KV) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, e := range s.entries {
		if !strings.HasPrefix(k, prefix) || s.expired(e) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// SetClock replaces the store's time source. Test helper; production code
// uses time.Now.
func (s *KV) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *KV) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}
