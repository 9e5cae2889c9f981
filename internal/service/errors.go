// Package service composes the retrieval and synthesis pipeline on top
// of the embedding, index, session, and llm packages.
package service

import "errors"

// Sentinel errors classifying pipeline failures. Callers match with
// errors.Is; the HTTP gateway maps them to status codes.
var (
	// ErrInvalidConfiguration indicates rejected parameters such as a
	// non-positive topK or a malformed chunking configuration.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrEmbeddingUnavailable indicates the embedding provider could
	// not be reached after bounded retries.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrIndexUnavailable indicates the vector index backend failed.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrGenerationFailed indicates the language model could not
	// produce an answer.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrNotInitialized indicates the knowledge base holds no chunks
	// yet; callers must ingest before querying.
	ErrNotInitialized = errors.New("knowledge base not initialized")
)
