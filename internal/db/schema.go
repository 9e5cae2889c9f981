package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
)

// schemaSQL defines the chunk and session tables. The HNSW index
// dimension is bound at init time and must match the embedding model;
// a SurrealDB database therefore holds vectors of exactly one model.
const schemaSQL = `
    -- ==========================================================================
    -- CHUNK TABLE (indexed passages)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document_id ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS text ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS start_offset ON chunk TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS end_offset ON chunk TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS overlap ON chunk TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS model ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS metadata ON chunk TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS embedding ON chunk TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created ON chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chunk_document ON chunk FIELDS document_id;
    DEFINE INDEX IF NOT EXISTS chunk_model ON chunk FIELDS model;
    DEFINE INDEX IF NOT EXISTS chunk_embedding ON chunk FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- SESSION / TURN TABLES (conversation history)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS created ON session TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS last_activity ON session TYPE datetime DEFAULT time::now();

    DEFINE TABLE IF NOT EXISTS turn SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS session_id ON turn TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON turn TYPE int;
    DEFINE FIELD IF NOT EXISTS role ON turn TYPE string ASSERT $value IN ["user", "assistant"];
    DEFINE FIELD IF NOT EXISTS text ON turn TYPE string;
    DEFINE FIELD IF NOT EXISTS created ON turn TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS turn_session_seq ON turn FIELDS session_id, seq;
`

// InitSchema creates tables and indexes, binding the HNSW index to the
// embedding dimension. Idempotent.
func (c *Client) InitSchema(ctx context.Context, embeddingDimension int) error {
	if embeddingDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", embeddingDimension)
	}

	sql := fmt.Sprintf(schemaSQL, embeddingDimension)
	if _, err := surrealdb.Query[any](ctx, c.db, sql, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
