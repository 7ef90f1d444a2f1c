package kv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-memory Store and Watcher.  It is concurrently safe.
// Two engines sharing one MemoryStore behave like two browser tabs sharing
// local storage.
type MemoryStore struct {
	Notifier

	mu      sync.RWMutex
	clock   clockwork.Clock
	entries map[string]entry
}

// ensure that MemoryStore implements the Store and Watcher interfaces
var (
	_ Store   = (*MemoryStore)(nil)
	_ Watcher = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
// Supported options:
//   - WithClock
func NewMemoryStore(opt ...Option) *MemoryStore {
	opts := getStoreOpts(opt...)
	return &MemoryStore{
		clock:   opts.withClock,
		entries: map[string]entry{},
	}
}

// Get implements the Store interface.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	const op = "MemoryStore.Get"
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.expired(s.clock.Now()) {
		return "", fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	}
	return e.value, nil
}

// Set implements the Store interface.
func (s *MemoryStore) Set(_ context.Context, key, value string, expiry time.Duration) error {
	const op = "MemoryStore.Set"
	if key == "" {
		return fmt.Errorf("%s: key is empty", op)
	}
	e := entry{value: value}
	if expiry > 0 {
		e.expiresAt = s.clock.Now().Add(expiry)
	}
	s.mu.Lock()
	old := s.entries[key]
	s.entries[key] = e
	s.mu.Unlock()

	s.Notify(Change{Key: key, OldValue: old.value, NewValue: value})
	return nil
}

// Remove implements the Store interface.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	old, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if ok {
		s.Notify(Change{Key: key, OldValue: old.value})
	}
	return nil
}
