package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fixhow/fixhow/internal/ifixit"
	"github.com/fixhow/fixhow/internal/index"
	"github.com/fixhow/fixhow/internal/models"
)

func batteryGuide(id int) *ifixit.Guide {
	return &ifixit.Guide{
		GuideID:    id,
		Title:      "Battery Replacement",
		Device:     "iPhone 13",
		Difficulty: "Moderate",
		Steps: []ifixit.Step{
			{Title: "Open", Lines: []ifixit.Line{{Text: "Remove the pentalobe screws and lift the battery."}}},
		},
	}
}

func newTestIngestor(guides GuideSource, idx index.VectorIndex, emb *fakeEmbedder, cfg IngestorConfig) *Ingestor {
	return NewIngestor(guides, emb, idx, nil, nil, cfg)
}

func TestBuildKnowledgeBase(t *testing.T) {
	src := &fakeGuideSource{
		hits: []ifixit.SearchResult{
			{GuideID: 1, Type: "guide"},
			{GuideID: 2, Type: "guide"},
		},
		guides: map[int]*ifixit.Guide{1: batteryGuide(1), 2: batteryGuide(2)},
	}
	idx := index.NewChromemIndex()
	emb := &fakeEmbedder{}
	ing := newTestIngestor(src, idx, emb, IngestorConfig{Concurrency: 2})

	result, err := ing.BuildKnowledgeBase(context.Background(), "iPhone 13", 5)
	if err != nil {
		t.Fatalf("BuildKnowledgeBase() error = %v", err)
	}
	if result.DocumentsIngested != 2 {
		t.Errorf("DocumentsIngested = %d, want 2", result.DocumentsIngested)
	}
	if result.ChunksIndexed == 0 {
		t.Error("no chunks indexed")
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v", result.Errors)
	}

	count, err := idx.Count(context.Background(), emb.Model())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != result.ChunksIndexed {
		t.Errorf("index count = %d, result says %d", count, result.ChunksIndexed)
	}
}

func TestBuildKnowledgeBase_ReingestSupersedes(t *testing.T) {
	src := &fakeGuideSource{
		hits:   []ifixit.SearchResult{{GuideID: 1, Type: "guide"}},
		guides: map[int]*ifixit.Guide{1: batteryGuide(1)},
	}
	idx := index.NewChromemIndex()
	emb := &fakeEmbedder{}
	ing := newTestIngestor(src, idx, emb, IngestorConfig{})

	var last *IngestResult
	for i := 0; i < 2; i++ {
		result, err := ing.BuildKnowledgeBase(context.Background(), "iPhone 13", 1)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		last = result
	}

	count, err := idx.Count(context.Background(), emb.Model())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	// Re-ingesting the same guide replaces its chunks instead of
	// stacking a second copy.
	if count != last.ChunksIndexed {
		t.Errorf("count after re-ingest = %d, want %d", count, last.ChunksIndexed)
	}
}

func TestBuildKnowledgeBase_RespectsMaxGuides(t *testing.T) {
	src := &fakeGuideSource{
		hits: []ifixit.SearchResult{
			{GuideID: 1, Type: "guide"},
			{GuideID: 2, Type: "guide"},
			{GuideID: 3, Type: "guide"},
			{GuideID: 4, Type: "wiki"},
		},
		guides: map[int]*ifixit.Guide{1: batteryGuide(1), 2: batteryGuide(2), 3: batteryGuide(3)},
	}
	ing := newTestIngestor(src, index.NewChromemIndex(), &fakeEmbedder{}, IngestorConfig{})

	result, err := ing.BuildKnowledgeBase(context.Background(), "iPhone 13", 2)
	if err != nil {
		t.Fatalf("BuildKnowledgeBase() error = %v", err)
	}
	if src.fetchCount() != 2 {
		t.Errorf("fetched %d guides, want 2", src.fetchCount())
	}
	if result.DocumentsIngested != 2 {
		t.Errorf("DocumentsIngested = %d, want 2", result.DocumentsIngested)
	}
}

func TestBuildKnowledgeBase_EmptyDevice(t *testing.T) {
	ing := newTestIngestor(&fakeGuideSource{}, index.NewChromemIndex(), &fakeEmbedder{}, IngestorConfig{})
	if _, err := ing.BuildKnowledgeBase(context.Background(), "  ", 2); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestBuildKnowledgeBase_PartialFailure(t *testing.T) {
	src := &fakeGuideSource{
		hits: []ifixit.SearchResult{
			{GuideID: 1, Type: "guide"},
			{GuideID: 2, Type: "guide"},
		},
		guides:   map[int]*ifixit.Guide{1: batteryGuide(1)},
		guideErr: map[int]error{2: errors.New("fetch failed")},
	}
	ing := newTestIngestor(src, index.NewChromemIndex(), &fakeEmbedder{}, IngestorConfig{})

	result, err := ing.BuildKnowledgeBase(context.Background(), "iPhone 13", 2)
	if err != nil {
		t.Fatalf("BuildKnowledgeBase() error = %v", err)
	}
	if result.DocumentsIngested != 1 {
		t.Errorf("DocumentsIngested = %d, want 1", result.DocumentsIngested)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want one entry", result.Errors)
	}
}

func TestBuildKnowledgeBase_ReportsProgress(t *testing.T) {
	src := &fakeGuideSource{
		hits:   []ifixit.SearchResult{{GuideID: 1, Type: "guide"}, {GuideID: 2, Type: "guide"}},
		guides: map[int]*ifixit.Guide{1: batteryGuide(1), 2: batteryGuide(2)},
	}

	var events []Progress
	ing := newTestIngestor(src, index.NewChromemIndex(), &fakeEmbedder{}, IngestorConfig{
		OnProgress: func(p Progress) { events = append(events, p) },
	})

	if _, err := ing.BuildKnowledgeBase(context.Background(), "iPhone 13", 2); err != nil {
		t.Fatalf("BuildKnowledgeBase() error = %v", err)
	}

	if len(events) == 0 || events[0].Stage != "search" {
		t.Fatalf("events = %+v, want search first", events)
	}
	last := events[len(events)-1]
	if last.Current != last.Total || last.Total != 2 {
		t.Errorf("final progress = %d/%d, want 2/2", last.Current, last.Total)
	}
}

func TestIngestFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "battery-tips.md")
	content := "# Battery Care\n\nNever puncture a swollen battery. Store batteries at half charge."
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := index.NewChromemIndex()
	emb := &fakeEmbedder{}
	ing := newTestIngestor(nil, idx, emb, IngestorConfig{})

	result, err := ing.IngestFiles(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("IngestFiles() error = %v", err)
	}
	if result.DocumentsIngested != 1 {
		t.Fatalf("DocumentsIngested = %d, want 1", result.DocumentsIngested)
	}

	r := newTestRetriever(t, emb, idx)
	results, err := r.Retrieve(context.Background(), "battery storage", 1, nil)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	// The markdown heading becomes the title carried into chunk metadata.
	if results[0].Chunk.Metadata[models.MetaTitle] != "Battery Care" {
		t.Errorf("title = %q", results[0].Chunk.Metadata[models.MetaTitle])
	}
	if results[0].Chunk.Metadata[models.MetaSource] != path {
		t.Errorf("source = %q", results[0].Chunk.Metadata[models.MetaSource])
	}
}

func TestIngestInvalidatesRetrievalCache(t *testing.T) {
	idx := index.NewChromemIndex()
	emb := &fakeEmbedder{}
	r := newTestRetriever(t, emb, idx)
	ing := NewIngestor(nil, emb, idx, r, nil, IngestorConfig{})

	seedIndex(t, idx, mkChunk("guide-battery", 0, "Remove the battery."))
	if _, err := r.Retrieve(context.Background(), "battery", 2, nil); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	doc := models.Document{ID: "guide-screen", Title: "Screen Swap", Text: "Lift the screen with a suction cup."}
	if _, err := ing.IngestDocuments(context.Background(), []models.Document{doc}); err != nil {
		t.Fatalf("IngestDocuments() error = %v", err)
	}

	// Same query re-embeds because the ingest purged the cache.
	before := emb.callCount()
	if _, err := r.Retrieve(context.Background(), "battery", 2, nil); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if emb.callCount() == before {
		t.Error("cache survived an ingest")
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.md", "b.txt", "c.pdf"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(sub, "d.markdown"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	flat, err := CollectFiles(dir, false)
	if err != nil {
		t.Fatalf("CollectFiles() error = %v", err)
	}
	if len(flat) != 2 {
		t.Errorf("flat = %v, want a.md and b.txt", flat)
	}

	recursive, err := CollectFiles(dir, true)
	if err != nil {
		t.Fatalf("CollectFiles(recursive) error = %v", err)
	}
	if len(recursive) != 3 {
		t.Errorf("recursive = %v, want 3 files", recursive)
	}
}
