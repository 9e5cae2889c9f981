package db

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ChunkRecord is the stored form of an indexed chunk.
type ChunkRecord struct {
	ID          surrealmodels.RecordID `json:"id"`
	DocumentID  string                 `json:"document_id"`
	Seq         int                    `json:"seq"`
	Text        string                 `json:"text"`
	StartOffset int                    `json:"start_offset"`
	EndOffset   int                    `json:"end_offset"`
	Overlap     int                    `json:"overlap"`
	Model       string                 `json:"model"`
	Metadata    map[string]string      `json:"metadata,omitempty"`
	Embedding   []float32              `json:"embedding,omitempty"`
	CreatedAt   time.Time              `json:"created"`
}

// ScoredChunk is a chunk returned by nearest-neighbor search.
type ScoredChunk struct {
	ChunkRecord
	Score float32 `json:"score"`
}

// ChunkInput is the payload for upserting a chunk.
type ChunkInput struct {
	ID          string
	DocumentID  string
	Seq         int
	Text        string
	StartOffset int
	EndOffset   int
	Overlap     int
	Model       string
	Metadata    map[string]string
	Embedding   []float32
}

// knnEF is the HNSW search expansion factor; larger improves recall at
// some cost.
const knnEF = 40

// metadataKeyRe limits filterable metadata keys to plain identifiers so
// they can be interpolated into the query safely.
var metadataKeyRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// UpsertChunks writes chunks, replacing any existing record with the
// same chunk ID.
func (c *Client) UpsertChunks(ctx context.Context, chunks []ChunkInput) error {
	for _, in := range chunks {
		_, err := surrealdb.Query[[]ChunkRecord](ctx, c.db, `
			UPSERT type::record("chunk", $id) CONTENT {
				document_id: $document_id,
				seq: $seq,
				text: $text,
				start_offset: $start_offset,
				end_offset: $end_offset,
				overlap: $overlap,
				model: $model,
				metadata: $metadata,
				embedding: $embedding,
				created: time::now()
			}
		`, map[string]any{
			"id":           in.ID,
			"document_id":  in.DocumentID,
			"seq":          in.Seq,
			"text":         in.Text,
			"start_offset": in.StartOffset,
			"end_offset":   in.EndOffset,
			"overlap":      in.Overlap,
			"model":        in.Model,
			"metadata":     in.Metadata,
			"embedding":    in.Embedding,
		})
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", in.ID, wrapQueryError(err))
		}
	}
	return nil
}

// SearchChunks performs a cosine KNN search over chunks of the given
// model, optionally restricted by metadata equality filters.
func (c *Client) SearchChunks(ctx context.Context, embedding []float32, topK int, model string, filter map[string]string) ([]ScoredChunk, error) {
	filterClause := ""
	vars := map[string]any{
		"emb":   embedding,
		"model": model,
		"limit": topK,
	}
	i := 0
	for key, val := range filter {
		if !metadataKeyRe.MatchString(key) {
			return nil, fmt.Errorf("invalid metadata filter key: %q", key)
		}
		param := fmt.Sprintf("fv%d", i)
		filterClause += fmt.Sprintf(" AND metadata.%s = $%s", key, param)
		vars[param] = val
		i++
	}

	// KNN operator needs literal k; over-fetch when filters may discard
	// neighbors.
	k := topK
	if len(filter) > 0 {
		k *= 4
	}
	sql := fmt.Sprintf(`
		SELECT id, document_id, seq, text, start_offset, end_offset, overlap,
			model, metadata, created,
			vector::similarity::cosine(embedding, $emb) AS score
		FROM chunk
		WHERE embedding <|%d,%d|> $emb AND model = $model%s
		ORDER BY score DESC
		LIMIT $limit
	`, k, knnEF, filterClause)

	results, err := surrealdb.Query[[]ScoredChunk](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []ScoredChunk{}, nil
}

// DeleteChunks removes chunk records by ID. Unknown IDs are ignored.
func (c *Client) DeleteChunks(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := surrealdb.Query[any](ctx, c.db, `
			DELETE type::record("chunk", $id)
		`, map[string]any{"id": id}); err != nil {
			return fmt.Errorf("delete chunk %s: %w", id, wrapQueryError(err))
		}
	}
	return nil
}

// DeleteChunksByDocument removes every chunk belonging to a document.
func (c *Client) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	if _, err := surrealdb.Query[any](ctx, c.db, `
		DELETE chunk WHERE document_id = $doc
	`, map[string]any{"doc": documentID}); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", documentID, wrapQueryError(err))
	}
	return nil
}

// DeleteChunksByModel removes all embeddings produced by a model.
func (c *Client) DeleteChunksByModel(ctx context.Context, model string) error {
	if _, err := surrealdb.Query[any](ctx, c.db, `
		DELETE chunk WHERE model = $model
	`, map[string]any{"model": model}); err != nil {
		return fmt.Errorf("delete chunks of model %s: %w", model, wrapQueryError(err))
	}
	return nil
}

type countResult struct {
	Count int `json:"count"`
}

// CountChunks reports how many chunks are indexed for a model.
func (c *Client) CountChunks(ctx context.Context, model string) (int, error) {
	results, err := surrealdb.Query[[]countResult](ctx, c.db, `
		SELECT count() AS count FROM chunk WHERE model = $model GROUP ALL
	`, map[string]any{"model": model})
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}

// SessionRecord is the stored form of a conversation session.
type SessionRecord struct {
	ID           surrealmodels.RecordID `json:"id"`
	CreatedAt    time.Time              `json:"created"`
	LastActivity time.Time              `json:"last_activity"`
}

// TurnRecord is a stored conversation turn.
type TurnRecord struct {
	ID        surrealmodels.RecordID `json:"id"`
	SessionID string                 `json:"session_id"`
	Seq       int                    `json:"seq"`
	Role      string                 `json:"role"`
	Text      string                 `json:"text"`
	CreatedAt time.Time              `json:"created"`
}

// TurnInput is the payload for appending a turn.
type TurnInput struct {
	Role string
	Text string
}

// CreateSession creates a session record with the given identifier.
func (c *Client) CreateSession(ctx context.Context, id string) error {
	if _, err := surrealdb.Query[[]SessionRecord](ctx, c.db, `
		CREATE type::record("session", $id) CONTENT {
			created: time::now(),
			last_activity: time::now()
		}
	`, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("create session: %w", wrapQueryError(err))
	}
	return nil
}

// GetSession fetches a session record. Returns (nil, nil) if absent.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	results, err := surrealdb.Query[[]SessionRecord](ctx, c.db, `
		SELECT * FROM type::record("session", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// CountTurns reports the number of turns appended to a session.
func (c *Client) CountTurns(ctx context.Context, sessionID string) (int, error) {
	results, err := surrealdb.Query[[]countResult](ctx, c.db, `
		SELECT count() AS count FROM turn WHERE session_id = $sid GROUP ALL
	`, map[string]any{"sid": sessionID})
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}

// AppendTurns inserts turns with consecutive sequence numbers starting
// at startSeq and bumps the session's last-activity timestamp. The
// insert is a single statement, so either every turn lands or none do.
func (c *Client) AppendTurns(ctx context.Context, sessionID string, startSeq int, turns []TurnInput) error {
	if len(turns) == 0 {
		return nil
	}

	batch := make([]map[string]any, len(turns))
	for i, t := range turns {
		batch[i] = map[string]any{
			"session_id": sessionID,
			"seq":        startSeq + i,
			"role":       t.Role,
			"text":       t.Text,
		}
	}

	if _, err := surrealdb.Query[any](ctx, c.db, `
		INSERT INTO turn $batch;
		UPDATE type::record("session", $sid) SET last_activity = time::now();
	`, map[string]any{"batch": batch, "sid": sessionID}); err != nil {
		return fmt.Errorf("append turns: %w", wrapQueryError(err))
	}
	return nil
}

// GetHistory returns a session's turns in append order. When maxTurns is
// positive, only the most recent maxTurns are returned (still oldest
// first).
func (c *Client) GetHistory(ctx context.Context, sessionID string, maxTurns int) ([]TurnRecord, error) {
	sql := `SELECT * FROM turn WHERE session_id = $sid ORDER BY seq ASC`
	vars := map[string]any{"sid": sessionID}
	if maxTurns > 0 {
		sql = `SELECT * FROM turn WHERE session_id = $sid ORDER BY seq DESC LIMIT $n`
		vars["n"] = maxTurns
	}

	results, err := surrealdb.Query[[]TurnRecord](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", wrapQueryError(err))
	}

	var turns []TurnRecord
	if results != nil && len(*results) > 0 {
		turns = (*results)[0].Result
	}
	if maxTurns > 0 {
		// The bounded query fetched newest-first; restore append order.
		for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
			turns[i], turns[j] = turns[j], turns[i]
		}
	}
	return turns, nil
}

// DeleteSession removes a session and its turns. Idempotent.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := surrealdb.Query[any](ctx, c.db, `
		DELETE turn WHERE session_id = $sid;
		DELETE type::record("session", $sid);
	`, map[string]any{"sid": sessionID}); err != nil {
		return fmt.Errorf("delete session: %w", wrapQueryError(err))
	}
	return nil
}

// ListIdleSessions returns the identifiers of sessions whose last
// activity predates the cutoff.
func (c *Client) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	results, err := surrealdb.Query[[]SessionRecord](ctx, c.db, `
		SELECT * FROM session WHERE last_activity < $cutoff
	`, map[string]any{"cutoff": cutoff})
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", wrapQueryError(err))
	}

	var ids []string
	if results != nil && len(*results) > 0 {
		for _, rec := range (*results)[0].Result {
			ids = append(ids, fmt.Sprint(rec.ID.ID))
		}
	}
	return ids, nil
}
