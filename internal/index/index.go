// Package index defines the vector index boundary and its adapters.
//
// The index stores (vector, chunk, metadata) triples and answers
// nearest-neighbor queries by cosine similarity. It is written by the
// ingestion path and read by the retriever; answering a query never
// mutates it.
package index

import (
	"context"
	"errors"

	"github.com/fixhow/fixhow/internal/models"
)

// ErrUnavailable indicates the index backend could not serve the request.
var ErrUnavailable = errors.New("vector index unavailable")

// Filter restricts a query to chunks whose metadata contains every
// listed key/value pair.
type Filter map[string]string

// VectorIndex is the storage boundary for embedded chunks.
//
// A chunk has at most one record per embedding model: upserting the same
// (chunk, model) pair replaces the previous record, while a different
// model writes a parallel record that PurgeModel can remove explicitly.
type VectorIndex interface {
	// Upsert stores chunks with their vectors under the given model
	// identifier. len(vectors) must equal len(chunks).
	Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32, modelID string) error

	// Query returns up to topK nearest chunks for the model identifier,
	// most similar first. topK is clamped to the number of indexed
	// chunks; an empty index yields an empty result, not an error.
	Query(ctx context.Context, vector []float32, topK int, modelID string, filter Filter) ([]models.RetrievalResult, error)

	// Delete removes chunk records across all models. Unknown IDs are
	// ignored.
	Delete(ctx context.Context, chunkIDs ...string) error

	// DeleteDocument removes every chunk of a document, superseding it
	// ahead of re-ingestion.
	DeleteDocument(ctx context.Context, documentID string) error

	// PurgeModel drops all embeddings produced by the given model.
	PurgeModel(ctx context.Context, modelID string) error

	// Count reports the number of chunks indexed for the model.
	Count(ctx context.Context, modelID string) (int, error)

	// Close releases backend connections.
	Close(ctx context.Context) error
}
