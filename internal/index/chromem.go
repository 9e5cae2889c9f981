package index

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/fixhow/fixhow/internal/models"
)

// Reserved metadata keys the adapter writes alongside the caller's
// document metadata.
const (
	metaSeq     = "seq"
	metaOverlap = "overlap"
	metaStart   = "start"
	metaEnd     = "end"
	metaDocID   = "document_id"
)

// ChromemIndex is an embedded vector index backed by chromem-go.
// Each embedding model gets its own collection, which keeps vectors of
// different dimensionality apart and makes the one-embedding-per-model
// invariant a natural consequence of record identity.
type ChromemIndex struct {
	db *chromem.DB

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

var _ VectorIndex = (*ChromemIndex)(nil)

// NewChromemIndex creates an in-memory index. Contents are lost on
// process exit; use NewPersistentChromemIndex for durable storage.
func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// NewPersistentChromemIndex creates an index persisted under path.
// Existing contents are loaded, so indexed chunks survive restarts.
func NewPersistentChromemIndex(path string) (*ChromemIndex, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return &ChromemIndex{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// collection returns the per-model collection, creating it on first use.
func (x *ChromemIndex) collection(modelID string) (*chromem.Collection, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if c, ok := x.collections[modelID]; ok {
		return c, nil
	}

	// Cosine is chromem's similarity measure; record it the way the
	// chroma convention does.
	c, err := x.db.GetOrCreateCollection(collectionName(modelID), map[string]string{
		"hnsw:space": "cosine",
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: get collection: %v", ErrUnavailable, err)
	}
	x.collections[modelID] = c
	return c, nil
}

func collectionName(modelID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, modelID)
	return "chunks-" + safe
}

// Upsert stores chunks with their vectors under the model identifier.
func (x *ChromemIndex) Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32, modelID string) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	col, err := x.collection(modelID)
	if err != nil {
		return err
	}

	ids := make([]string, len(chunks))
	metadatas := make([]map[string]string, len(chunks))
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		contents[i] = c.Text
		meta := make(map[string]string, len(c.Metadata)+5)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta[metaDocID] = c.DocumentID
		meta[metaSeq] = strconv.Itoa(c.Seq)
		meta[metaOverlap] = strconv.Itoa(c.Overlap)
		meta[metaStart] = strconv.Itoa(c.Start)
		meta[metaEnd] = strconv.Itoa(c.End)
		metadatas[i] = meta
	}

	if err := col.Add(ctx, ids, vectors, metadatas, contents); err != nil {
		return fmt.Errorf("%w: add: %v", ErrUnavailable, err)
	}
	return nil
}

// Query returns up to topK nearest chunks, most similar first.
func (x *ChromemIndex) Query(ctx context.Context, vector []float32, topK int, modelID string, filter Filter) ([]models.RetrievalResult, error) {
	col, err := x.collection(modelID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection, so clamp.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, map[string]string(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrUnavailable, err)
	}

	out := make([]models.RetrievalResult, 0, len(results))
	for i, r := range results {
		out = append(out, models.RetrievalResult{
			Chunk: chunkFromRecord(r.ID, r.Content, r.Metadata),
			Score: r.Similarity,
			Rank:  i + 1,
		})
	}
	return out, nil
}

// chunkFromRecord rebuilds a Chunk from a stored record.
func chunkFromRecord(id, content string, meta map[string]string) models.Chunk {
	chunk := models.Chunk{
		ID:       id,
		Text:     content,
		Metadata: make(map[string]string),
	}
	for k, v := range meta {
		switch k {
		case metaDocID:
			chunk.DocumentID = v
		case metaSeq:
			chunk.Seq, _ = strconv.Atoi(v)
		case metaOverlap:
			chunk.Overlap, _ = strconv.Atoi(v)
		case metaStart:
			chunk.Start, _ = strconv.Atoi(v)
		case metaEnd:
			chunk.End, _ = strconv.Atoi(v)
		default:
			chunk.Metadata[k] = v
		}
	}
	// The retriever filters on document_id like any other key.
	chunk.Metadata[metaDocID] = chunk.DocumentID
	return chunk
}

// Delete removes chunk records across all model collections.
func (x *ChromemIndex) Delete(ctx context.Context, chunkIDs ...string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	for _, col := range x.allCollections() {
		if col.Count() == 0 {
			continue
		}
		if err := col.Delete(ctx, nil, nil, chunkIDs...); err != nil {
			return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// DeleteDocument removes every chunk of a document from all collections.
func (x *ChromemIndex) DeleteDocument(ctx context.Context, documentID string) error {
	for _, col := range x.allCollections() {
		if col.Count() == 0 {
			continue
		}
		where := map[string]string{metaDocID: documentID}
		if err := col.Delete(ctx, where, nil); err != nil {
			return fmt.Errorf("%w: delete document: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// PurgeModel drops the model's collection entirely.
func (x *ChromemIndex) PurgeModel(ctx context.Context, modelID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.db.DeleteCollection(collectionName(modelID)); err != nil {
		return fmt.Errorf("%w: delete collection: %v", ErrUnavailable, err)
	}
	delete(x.collections, modelID)
	return nil
}

// Count reports the number of chunks indexed for the model.
func (x *ChromemIndex) Count(ctx context.Context, modelID string) (int, error) {
	col, err := x.collection(modelID)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Close is a no-op: chromem persists on write.
func (x *ChromemIndex) Close(ctx context.Context) error {
	return nil
}

// allCollections lists every chunk collection, including ones persisted
// by earlier runs that this process has not touched yet.
func (x *ChromemIndex) allCollections() []*chromem.Collection {
	all := x.db.ListCollections()
	out := make([]*chromem.Collection, 0, len(all))
	for name, c := range all {
		if strings.HasPrefix(name, "chunks-") {
			out = append(out, c)
		}
	}
	return out
}
