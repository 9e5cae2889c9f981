// Package session holds per-session conversation history.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/fixhow/fixhow/internal/models"
)

// ErrNotFound indicates the session identifier is unknown.
// Deleting a session and then reading its history fails with this error.
var ErrNotFound = errors.New("session not found")

// Store is the conversation history boundary.
//
// Turn order within a session is append order; implementations must
// serialize concurrent appends to the same session while letting
// unrelated sessions proceed independently. AppendTurns is atomic: on
// error or cancellation, no partial batch is visible.
type Store interface {
	// Create registers a session. An empty id asks the store to
	// generate one; a caller-supplied id is used as-is (idempotent when
	// it already exists). Returns the effective session id.
	Create(ctx context.Context, id string) (string, error)

	// AppendTurns appends turns in the given order.
	AppendTurns(ctx context.Context, id string, turns ...models.Turn) error

	// History returns turns in append order, most recent last. When
	// maxTurns is positive, only the most recent maxTurns are returned.
	History(ctx context.Context, id string, maxTurns int) ([]models.Turn, error)

	// Delete removes a session. Idempotent: deleting an absent session
	// is not an error.
	Delete(ctx context.Context, id string) error

	// EvictIdle removes sessions whose last activity is older than the
	// given age, returning how many were evicted.
	EvictIdle(ctx context.Context, olderThan time.Duration) (int, error)

	// Close releases any backing resources.
	Close(ctx context.Context) error
}
