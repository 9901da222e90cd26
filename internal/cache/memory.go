package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps entries in process. Expired entries are hidden on read and
// removed by Sweep.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration
	now        func() time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces the wall clock used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore(defaultTTL time.Duration, opts ...MemoryOption) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	s := &MemoryStore{
		entries:    make(map[string]memoryEntry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value for key or ErrCacheMiss.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores value under key for ttl, or the default TTL when ttl <= 0.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("cache key is required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: s.now().Add(ttl)}
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Incr adds one to the counter at key. Expired or non-numeric entries restart at 1.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	if key == "" {
		return 0, errors.New("cache key is required")
	}
	if window <= 0 {
		window = s.defaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	var n int64
	if ok && now.Before(entry.expiresAt) {
		n, _ = strconv.ParseInt(string(entry.value), 10, 64)
	} else {
		entry.expiresAt = now.Add(window)
	}
	n++
	entry.value = []byte(strconv.FormatInt(n, 10))
	s.entries[key] = entry
	return n, nil
}

// Sweep evicts expired entries and reports how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
