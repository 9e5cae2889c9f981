package models

import "fmt"

// Chunk is a bounded text window derived from a Document for embedding
// and retrieval. Derivation is deterministic: the same document and
// chunking configuration always produce the same chunks.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Seq        int               `json:"seq"`
	Text       string            `json:"text"`

	// Character offsets into the parent document text.
	Start int `json:"start"`
	End   int `json:"end"`

	// Overlap is the number of leading characters shared with the
	// previous chunk. Dropping it from every chunk but the first and
	// concatenating reconstructs the parent text.
	Overlap int `json:"overlap"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChunkID builds the deterministic chunk identifier for a document and
// sequence index.
func ChunkID(documentID string, seq int) string {
	return fmt.Sprintf("%s:%04d", documentID, seq)
}

// ChunkingConfig defines the sliding-window parameters.
type ChunkingConfig struct {
	// Size is the window length in characters.
	Size int
	// Overlap is the character overlap between consecutive chunks.
	// Must be strictly smaller than Size.
	Overlap int
}

// DefaultChunkingConfig mirrors the defaults the chatbot ships with:
// small windows tuned for compact embedding models.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Size:    256,
		Overlap: 25,
	}
}
