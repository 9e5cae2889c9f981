package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fixhow/fixhow/internal/models"
)

// entry pairs a session with its own mutex so appends to one session
// serialize without blocking the rest of the store.
type entry struct {
	mu   sync.Mutex
	sess models.Session
}

// MemoryStore keeps sessions in process memory. History does not
// survive a restart; use the SurrealDB store when persistence matters.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*entry)}
}

// Create registers a session, generating an id when none is supplied.
func (s *MemoryStore) Create(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		now := time.Now()
		s.sessions[id] = &entry{sess: models.Session{
			ID:           id,
			CreatedAt:    now,
			LastActivity: now,
		}}
	}
	return id, nil
}

// AppendTurns appends turns atomically, serialized per session.
func (s *MemoryStore) AppendTurns(ctx context.Context, id string, turns ...models.Turn) error {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		e.sess.Turns = append(e.sess.Turns, t)
	}
	e.sess.LastActivity = now
	return nil
}

// History returns turns in append order, most recent last.
func (s *MemoryStore) History(ctx context.Context, id string, maxTurns int) ([]models.Turn, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	turns := e.sess.Turns
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Delete removes a session. Idempotent.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// EvictIdle removes sessions idle for longer than olderThan.
func (s *MemoryStore) EvictIdle(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		idle := e.sess.LastActivity.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
