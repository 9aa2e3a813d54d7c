// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import "context"

// MemoryStore is a transient Store. Commit only publishes the staged
// cursor; there is nothing to make durable.
type MemoryStore struct {
	cache
}

// NewMemoryStore returns an empty MemoryStore. eventsPerRoom <= 0
// selects DefaultEventsPerRoom.
func NewMemoryStore(eventsPerRoom int) *MemoryStore {
	return &MemoryStore{cache: newCache(eventsPerRoom)}
}

// IsPermanent returns false.
func (s *MemoryStore) IsPermanent() bool { return false }

// Commit publishes the staged cursor.
func (s *MemoryStore) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.stagedCursor != nil {
		s.cursor = *s.stagedCursor
		s.stagedCursor = nil
	}
	return nil
}

// Clear drops everything.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.reset()
	return nil
}

// Close marks the store closed and drops its data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.reset()
	s.closed = true
	return nil
}
