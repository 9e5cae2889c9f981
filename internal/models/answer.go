package models

import "time"

// Citation references a retrieved chunk that backs part of an answer.
// Every citation must point at a chunk that was actually retrieved for
// the same call; the synthesizer enforces this.
type Citation struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	SourceURI  string  `json:"source_uri,omitempty"`
	Score      float32 `json:"score"`
}

// Answer is a synthesized response with source attribution.
// Ephemeral per query; it may additionally be appended to a session as
// an assistant turn.
type Answer struct {
	Text      string        `json:"text"`
	Citations []Citation    `json:"citations"`
	Model     string        `json:"model"`
	Latency   time.Duration `json:"latency"`

	// NoContext marks a best-effort answer produced when retrieval
	// found no passage above the similarity threshold. Such answers
	// carry no citations.
	NoContext bool `json:"no_context"`
}
