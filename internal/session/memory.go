package session

import (
	"context"
	"sync"
)

// MemoryBackend keeps sessions in a mutex-guarded map. Contents are
// volatile: a restart loses every session. Records are deep-copied on the
// way in and out so callers never alias the stored copy.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]Session)}
}

// Put inserts or replaces the record for sess.ID.
func (b *MemoryBackend) Put(_ context.Context, sess Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get returns the session with the given ID, or ErrNotFound.
func (b *MemoryBackend) Get(_ context.Context, id string) (Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sess, ok := b.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess.Clone(), nil
}

// Delete removes the session and reports whether it existed.
func (b *MemoryBackend) Delete(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[id]
	delete(b.sessions, id)
	return ok, nil
}

// Scan returns a copy of every stored session.
func (b *MemoryBackend) Scan(_ context.Context) ([]Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Session, 0, len(b.sessions))
	for _, sess := range b.sessions {
		out = append(out, sess.Clone())
	}
	return out, nil
}

// Count returns the number of stored sessions.
func (b *MemoryBackend) Count(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions), nil
}

// Close is a no-op for the in-memory backend.
func (b *MemoryBackend) Close() error { return nil }
