package cache

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/quill/internal/generation"
)

var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	content   *generation.GeneratedContent
	expiresAt time.Time
	seq       uint64
}

// MemoryStore is an in-process Store with per-entry TTL and a size bound.
// When full, the oldest entry is evicted.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
	seq        uint64
	now        func() time.Time
}

// NewMemoryStore creates a MemoryStore holding at most maxEntries items.
// A non-positive maxEntries means unbounded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get implements Store. Callers receive a copy.
func (s *MemoryStore) Get(_ context.Context, key string) (*generation.GeneratedContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, ErrMiss
	}
	return entry.content.Clone(), nil
}

// Set implements Store. A non-positive ttl never expires.
func (s *MemoryStore) Set(_ context.Context, key string, content *generation.GeneratedContent, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.seq++
	entry := memoryEntry{content: content.Clone(), seq: s.seq}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictLocked(now)
	}
	s.entries[key] = entry
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLocked drops expired entries, then the oldest one if still full.
func (s *MemoryStore) evictLocked(now time.Time) {
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	if len(s.entries) < s.maxEntries {
		return
	}

	var oldestKey string
	var oldest uint64
	for key, entry := range s.entries {
		if oldestKey == "" || entry.seq < oldest {
			oldestKey, oldest = key, entry.seq
		}
	}
	delete(s.entries, oldestKey)
}
