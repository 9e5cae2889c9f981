package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fixhow/fixhow/internal/db"
	"github.com/fixhow/fixhow/internal/models"
)

// SurrealStore persists sessions in SurrealDB so history survives
// process restarts. Appends to the same session are serialized with a
// process-local per-session lock on top of the database's atomic batch
// insert.
type SurrealStore struct {
	client *db.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Store = (*SurrealStore)(nil)

// NewSurrealStore wraps an initialized database client.
func NewSurrealStore(client *db.Client) *SurrealStore {
	return &SurrealStore{
		client: client,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *SurrealStore) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[id] = l
	return l
}

func (s *SurrealStore) dropLock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, id)
}

// Create registers a session, generating an id when none is supplied.
func (s *SurrealStore) Create(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	existing, err := s.client.GetSession(ctx, id)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if existing != nil {
		return id, nil
	}
	if err := s.client.CreateSession(ctx, id); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// appendAttempts bounds retries when a concurrent writer in another
// process hits the same session and the insert loses a transaction
// conflict.
const appendAttempts = 3

// AppendTurns appends turns atomically, serialized per session.
func (s *SurrealStore) AppendTurns(ctx context.Context, id string, turns ...models.Turn) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	rec, err := s.client.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("append turns: %w", err)
	}
	if rec == nil {
		return ErrNotFound
	}

	inputs := make([]db.TurnInput, len(turns))
	for i, t := range turns {
		inputs[i] = db.TurnInput{Role: string(t.Role), Text: t.Text}
	}

	// Sequence numbers are recomputed per attempt: a conflict means
	// another writer appended first, moving the start position.
	return retryOnConflict(ctx, appendAttempts, func() error {
		startSeq, err := s.client.CountTurns(ctx, id)
		if err != nil {
			return fmt.Errorf("append turns: %w", err)
		}
		return s.client.AppendTurns(ctx, id, startSeq, inputs)
	})
}

// retryOnConflict runs fn up to attempts times, backing off briefly
// between tries, as long as it keeps failing with a transaction
// conflict. Any other error returns immediately.
func retryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !errors.Is(err, db.ErrTransactionConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 20 * time.Millisecond):
		}
	}
	return err
}

// History returns turns in append order, most recent last.
func (s *SurrealStore) History(ctx context.Context, id string, maxTurns int) ([]models.Turn, error) {
	rec, err := s.client.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	records, err := s.client.GetHistory(ctx, id, maxTurns)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	turns := make([]models.Turn, len(records))
	for i, r := range records {
		turns[i] = models.Turn{
			Role:      models.Role(r.Role),
			Text:      r.Text,
			Timestamp: r.CreatedAt,
		}
	}
	return turns, nil
}

// Delete removes a session and its turns. Idempotent.
func (s *SurrealStore) Delete(ctx context.Context, id string) error {
	if err := s.client.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.dropLock(id)
	return nil
}

// EvictIdle removes sessions idle for longer than olderThan.
func (s *SurrealStore) EvictIdle(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.client.ListIdleSessions(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("evict idle: %w", err)
	}
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// Close releases the database connection.
func (s *SurrealStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
