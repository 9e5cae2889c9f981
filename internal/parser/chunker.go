// Package parser splits normalized documents into overlapping text
// windows sized for embedding.
package parser

import (
	"errors"
	"fmt"

	"github.com/fixhow/fixhow/internal/models"
)

// ErrInvalidConfig indicates a rejected chunking configuration.
// Checked with errors.Is by callers validating user input.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

// Split cuts the document text into overlapping windows.
//
// The windows cover the text end to end with no gaps; consecutive chunks
// share exactly cfg.Overlap characters. A document shorter than cfg.Size
// yields a single chunk equal to the whole text. Splitting is a pure
// function of (doc, cfg), so the sequence is restartable by calling again.
func Split(doc models.Document, cfg models.ChunkingConfig) ([]models.Chunk, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidConfig, cfg.Size)
	}
	if cfg.Overlap < 0 {
		return nil, fmt.Errorf("%w: overlap %d must be non-negative", ErrInvalidConfig, cfg.Overlap)
	}
	if cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than size %d",
			ErrInvalidConfig, cfg.Overlap, cfg.Size)
	}

	text := []rune(doc.Text)
	if len(text) == 0 {
		return nil, nil
	}

	step := cfg.Size - cfg.Overlap
	chunks := make([]models.Chunk, 0, len(text)/step+1)

	for start, seq := 0, 0; ; seq++ {
		end := start + cfg.Size
		if end > len(text) {
			end = len(text)
		}

		overlap := 0
		if seq > 0 {
			overlap = cfg.Overlap
		}

		chunks = append(chunks, models.Chunk{
			ID:         models.ChunkID(doc.ID, seq),
			DocumentID: doc.ID,
			Seq:        seq,
			Text:       string(text[start:end]),
			Start:      start,
			End:        end,
			Overlap:    overlap,
			Metadata:   chunkMetadata(doc),
		})

		if end == len(text) {
			break
		}
		start += step
	}

	return chunks, nil
}

// Reassemble reconstructs the original document text from its chunks by
// dropping each chunk's leading overlap. Chunks must be in sequence order.
func Reassemble(chunks []models.Chunk) string {
	var out []rune
	for _, c := range chunks {
		runes := []rune(c.Text)
		if c.Overlap > 0 && c.Overlap >= len(runes) {
			continue // fully contained in the previous window
		}
		out = append(out, runes[c.Overlap:]...)
	}
	return string(out)
}

// chunkMetadata copies the document metadata so each indexed chunk can be
// filtered and attributed without loading the parent document.
func chunkMetadata(doc models.Document) map[string]string {
	meta := make(map[string]string, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["document_id"] = doc.ID
	if doc.Title != "" {
		meta[models.MetaTitle] = doc.Title
	}
	if doc.SourceURI != "" {
		meta[models.MetaSource] = doc.SourceURI
	}
	return meta
}
