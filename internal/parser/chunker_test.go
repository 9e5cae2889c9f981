package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/fixhow/fixhow/internal/models"
)

func doc(text string) models.Document {
	return models.Document{
		ID:        "doc",
		Title:     "Battery Replacement",
		SourceURI: "https://example.com/guide/1",
		Text:      text,
		Metadata:  map[string]string{models.MetaDevice: "iPhone 13"},
	}
}

func TestSplit_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.ChunkingConfig
	}{
		{"zero size", models.ChunkingConfig{Size: 0, Overlap: 0}},
		{"negative size", models.ChunkingConfig{Size: -1, Overlap: 0}},
		{"negative overlap", models.ChunkingConfig{Size: 10, Overlap: -1}},
		{"overlap equals size", models.ChunkingConfig{Size: 10, Overlap: 10}},
		{"overlap exceeds size", models.ChunkingConfig{Size: 10, Overlap: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split(doc("some text"), tt.cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Split() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSplit_ShortDocumentSingleChunk(t *testing.T) {
	text := "Remove the back cover. Unscrew the four screws. Lift the battery."
	chunks, err := Split(doc(text), models.ChunkingConfig{Size: 256, Overlap: 25})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("chunk text = %q, want whole document", chunks[0].Text)
	}
	if chunks[0].Overlap != 0 {
		t.Errorf("single chunk overlap = %d, want 0", chunks[0].Overlap)
	}
	if chunks[0].ID != "doc:0000" {
		t.Errorf("chunk ID = %q", chunks[0].ID)
	}
}

func TestSplit_EmptyDocument(t *testing.T) {
	chunks, err := Split(doc(""), models.ChunkingConfig{Size: 10, Overlap: 2})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks for empty document, want 0", len(chunks))
	}
}

func TestSplit_ExactOverlapBetweenNeighbors(t *testing.T) {
	text := strings.Repeat("abcdefghij", 10) // 100 chars
	cfg := models.ChunkingConfig{Size: 30, Overlap: 10}

	chunks, err := Split(doc(text), cfg)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.Start != prev.End-cfg.Overlap && prev.End-prev.Start == cfg.Size {
			t.Errorf("chunk %d starts at %d, want %d", i, cur.Start, prev.End-cfg.Overlap)
		}
		tail := prev.Text[len(prev.Text)-cfg.Overlap:]
		head := cur.Text[:cfg.Overlap]
		if tail != head {
			t.Errorf("chunk %d overlap mismatch: %q vs %q", i, tail, head)
		}
	}
}

// Reassembling all chunks (dropping overlaps) must reconstruct the
// document text exactly, for a spread of configurations and lengths.
func TestSplit_ReassembleRoundTrip(t *testing.T) {
	texts := []string{
		"short",
		strings.Repeat("x", 255),
		strings.Repeat("x", 256),
		strings.Repeat("x", 257),
		strings.Repeat("Remove the back cover. Unscrew the four screws. Lift the battery. ", 40),
		"unicode ⌀3.5mm tri-point Y000 screwdriver — ネジを外します " + strings.Repeat("步骤 ", 200),
	}
	configs := []models.ChunkingConfig{
		{Size: 256, Overlap: 25},
		{Size: 64, Overlap: 0},
		{Size: 50, Overlap: 49},
		{Size: 7, Overlap: 3},
	}

	for _, text := range texts {
		for _, cfg := range configs {
			chunks, err := Split(doc(text), cfg)
			if err != nil {
				t.Fatalf("Split(size=%d overlap=%d) error = %v", cfg.Size, cfg.Overlap, err)
			}
			if got := Reassemble(chunks); got != text {
				t.Errorf("round trip failed for len=%d size=%d overlap=%d: got len %d",
					len([]rune(text)), cfg.Size, cfg.Overlap, len([]rune(got)))
			}
			// No gaps: every chunk starts where the previous one ended,
			// minus the configured overlap.
			for i := 1; i < len(chunks); i++ {
				if chunks[i].Start != chunks[i-1].End-chunks[i].Overlap &&
					chunks[i-1].End-chunks[i-1].Start == cfg.Size {
					t.Errorf("gap between chunk %d and %d", i-1, i)
				}
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 30)
	cfg := models.ChunkingConfig{Size: 100, Overlap: 20}

	a, err := Split(doc(text), cfg)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	b, _ := Split(doc(text), cfg)

	if len(a) != len(b) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Text != b[i].Text {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplit_MetadataCarried(t *testing.T) {
	chunks, err := Split(doc("enough text to produce a chunk"), models.ChunkingConfig{Size: 256, Overlap: 25})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	meta := chunks[0].Metadata
	if meta[models.MetaDevice] != "iPhone 13" {
		t.Errorf("device metadata missing: %v", meta)
	}
	if meta["document_id"] != "doc" {
		t.Errorf("document_id metadata missing: %v", meta)
	}
	if meta[models.MetaTitle] != "Battery Replacement" {
		t.Errorf("title metadata missing: %v", meta)
	}
}
