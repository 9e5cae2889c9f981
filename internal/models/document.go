// Package models defines the core data types shared across the pipeline.
package models

import "time"

// Metadata keys attached to documents and carried through to indexed chunks.
const (
	MetaDevice     = "device"
	MetaGuideType  = "guide_type"
	MetaDifficulty = "difficulty"
	MetaTitle      = "title"
	MetaSource     = "source"
)

// Document is a normalized piece of repair documentation.
// Immutable once created; re-ingesting the same SourceURI supersedes the
// previous version instead of mutating it.
type Document struct {
	ID        string            `json:"id"`
	SourceURI string            `json:"source_uri"`
	Title     string            `json:"title"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
