package index

import (
	"context"
	"fmt"

	"github.com/fixhow/fixhow/internal/db"
	"github.com/fixhow/fixhow/internal/models"
)

// SurrealIndex is a VectorIndex backed by a SurrealDB HNSW index.
//
// The HNSW index dimension is fixed at schema time, so one database
// holds the embeddings of exactly one model; Upsert and Query still
// filter on the model field, and PurgeModel clears a superseded model's
// leftovers after a configuration change.
type SurrealIndex struct {
	client *db.Client
}

var _ VectorIndex = (*SurrealIndex)(nil)

// NewSurrealIndex wraps an initialized database client.
func NewSurrealIndex(client *db.Client) *SurrealIndex {
	return &SurrealIndex{client: client}
}

// Upsert stores chunks with their vectors under the model identifier.
func (x *SurrealIndex) Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32, modelID string) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}

	inputs := make([]db.ChunkInput, len(chunks))
	for i, c := range chunks {
		inputs[i] = db.ChunkInput{
			ID:          c.ID,
			DocumentID:  c.DocumentID,
			Seq:         c.Seq,
			Text:        c.Text,
			StartOffset: c.Start,
			EndOffset:   c.End,
			Overlap:     c.Overlap,
			Model:       modelID,
			Metadata:    c.Metadata,
			Embedding:   vectors[i],
		}
	}

	if err := x.client.UpsertChunks(ctx, inputs); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Query returns up to topK nearest chunks, most similar first.
func (x *SurrealIndex) Query(ctx context.Context, vector []float32, topK int, modelID string, filter Filter) ([]models.RetrievalResult, error) {
	count, err := x.Count(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	scored, err := x.client.SearchChunks(ctx, vector, topK, modelID, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]models.RetrievalResult, 0, len(scored))
	for i, s := range scored {
		meta := s.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		out = append(out, models.RetrievalResult{
			Chunk: models.Chunk{
				ID:         fmt.Sprint(s.ID.ID),
				DocumentID: s.DocumentID,
				Seq:        s.Seq,
				Text:       s.Text,
				Start:      s.StartOffset,
				End:        s.EndOffset,
				Overlap:    s.Overlap,
				Metadata:   meta,
			},
			Score: s.Score,
			Rank:  i + 1,
		})
	}
	return out, nil
}

// Delete removes chunk records by ID.
func (x *SurrealIndex) Delete(ctx context.Context, chunkIDs ...string) error {
	if err := x.client.DeleteChunks(ctx, chunkIDs...); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteDocument removes every chunk of a document.
func (x *SurrealIndex) DeleteDocument(ctx context.Context, documentID string) error {
	if err := x.client.DeleteChunksByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// PurgeModel drops all embeddings produced by the given model.
func (x *SurrealIndex) PurgeModel(ctx context.Context, modelID string) error {
	if err := x.client.DeleteChunksByModel(ctx, modelID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Count reports the number of chunks indexed for the model.
func (x *SurrealIndex) Count(ctx context.Context, modelID string) (int, error) {
	n, err := x.client.CountChunks(ctx, modelID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Close releases the database connection.
func (x *SurrealIndex) Close(ctx context.Context) error {
	return x.client.Close(ctx)
}
