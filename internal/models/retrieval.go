package models

// RetrievalResult is one scored passage returned for a query.
// Ephemeral: produced per retrieval call, never persisted.
type RetrievalResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"` // cosine similarity, higher is closer
	Rank  int     `json:"rank"`  // 1-based position in the result ordering
}
