package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fixhow/fixhow/internal/embedding"
	"github.com/fixhow/fixhow/internal/ifixit"
	"github.com/fixhow/fixhow/internal/index"
	"github.com/fixhow/fixhow/internal/metrics"
	"github.com/fixhow/fixhow/internal/models"
	"github.com/fixhow/fixhow/internal/parser"
)

const (
	defaultConcurrency    = 4
	defaultEmbedBatchSize = 16
	defaultMaxGuides      = 5
)

// GuideSource fetches repair guides. *ifixit.Client implements it.
type GuideSource interface {
	Search(ctx context.Context, query string) ([]ifixit.SearchResult, error)
	GetGuide(ctx context.Context, guideID int) (*ifixit.Guide, error)
}

var _ GuideSource = (*ifixit.Client)(nil)

// Progress reports ingestion advancement to an observer such as the
// CLI progress view.
type Progress struct {
	Stage   string
	Current int
	Total   int
	Title   string
}

// IngestResult summarizes an ingestion operation.
type IngestResult struct {
	DocumentsIngested int      `json:"documents_ingested"`
	ChunksIndexed     int      `json:"chunks_indexed"`
	Errors            []string `json:"errors,omitempty"`
}

// IngestorConfig bounds concurrency and chunking. Zero values select
// defaults.
type IngestorConfig struct {
	Chunking       models.ChunkingConfig
	Concurrency    int
	EmbedBatchSize int
	MaxAttempts    int

	// OnProgress, when set, receives progress events. Calls are
	// serialized.
	OnProgress func(Progress)
}

// Ingestor builds and extends the knowledge base: fetch or read
// documents, chunk, embed, and index them.
type Ingestor struct {
	guides    GuideSource
	embedder  embedding.Embedder
	index     index.VectorIndex
	retriever *Retriever
	collector *metrics.Collector

	chunking       models.ChunkingConfig
	concurrency    int
	embedBatchSize int
	maxAttempts    int

	progressMu sync.Mutex
	onProgress func(Progress)
}

// NewIngestor creates an ingestor. The guide source, retriever, and
// metrics collector may be nil; without a retriever no cache is
// invalidated (there is none to go stale).
func NewIngestor(guides GuideSource, embedder embedding.Embedder, idx index.VectorIndex, retriever *Retriever, collector *metrics.Collector, cfg IngestorConfig) *Ingestor {
	chunking := cfg.Chunking
	if chunking.Size == 0 {
		chunking = models.DefaultChunkingConfig()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	batchSize := cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	return &Ingestor{
		guides:         guides,
		embedder:       embedder,
		index:          idx,
		retriever:      retriever,
		collector:      collector,
		chunking:       chunking,
		concurrency:    concurrency,
		embedBatchSize: batchSize,
		maxAttempts:    attempts,
		onProgress:     cfg.OnProgress,
	}
}

// BuildKnowledgeBase searches for guides covering the device, fetches
// up to maxGuides of them, and ingests each as a document. Earlier
// versions of the same guide are superseded. maxGuides <= 0 selects the
// default.
func (g *Ingestor) BuildKnowledgeBase(ctx context.Context, device string, maxGuides int) (*IngestResult, error) {
	if strings.TrimSpace(device) == "" {
		return nil, fmt.Errorf("%w: empty device name", ErrInvalidConfiguration)
	}
	if g.guides == nil {
		return nil, fmt.Errorf("%w: no guide source configured", ErrInvalidConfiguration)
	}
	if maxGuides <= 0 {
		maxGuides = defaultMaxGuides
	}

	start := time.Now()
	defer g.recordTiming(metrics.OpIngest, start)

	g.reportProgress(Progress{Stage: "search", Title: device})

	hits, err := g.guides.Search(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("search guides for %q: %w", device, err)
	}

	guideIDs := make([]int, 0, maxGuides)
	for _, hit := range hits {
		if hit.Type != "" && hit.Type != "guide" {
			continue
		}
		guideIDs = append(guideIDs, hit.GuideID)
		if len(guideIDs) == maxGuides {
			break
		}
	}

	slog.Info("building knowledge base", "device", device, "guides", len(guideIDs), "concurrency", g.concurrency)

	if len(guideIDs) == 0 {
		return &IngestResult{}, nil
	}

	result := g.runWorkers(ctx, len(guideIDs), func(ctx context.Context, i int) (string, int, error) {
		guide, err := g.guides.GetGuide(ctx, guideIDs[i])
		if err != nil {
			return fmt.Sprintf("guide %d", guideIDs[i]), 0, err
		}
		doc := ifixit.FormatGuide(guide)
		chunks, err := g.ingestDocument(ctx, doc)
		return doc.Title, chunks, err
	})

	g.invalidateCache()
	return result, nil
}

// IngestFiles ingests local text or markdown files, one document per
// file.
func (g *Ingestor) IngestFiles(ctx context.Context, paths []string) (*IngestResult, error) {
	if len(paths) == 0 {
		return &IngestResult{}, nil
	}

	start := time.Now()
	defer g.recordTiming(metrics.OpIngest, start)

	slog.Info("ingesting files", "files", len(paths), "concurrency", g.concurrency)

	result := g.runWorkers(ctx, len(paths), func(ctx context.Context, i int) (string, int, error) {
		doc, err := documentFromFile(paths[i])
		if err != nil {
			return paths[i], 0, err
		}
		chunks, err := g.ingestDocument(ctx, doc)
		return doc.Title, chunks, err
	})

	g.invalidateCache()
	return result, nil
}

// IngestDocuments ingests already-normalized documents.
func (g *Ingestor) IngestDocuments(ctx context.Context, docs []models.Document) (*IngestResult, error) {
	if len(docs) == 0 {
		return &IngestResult{}, nil
	}

	start := time.Now()
	defer g.recordTiming(metrics.OpIngest, start)

	result := g.runWorkers(ctx, len(docs), func(ctx context.Context, i int) (string, int, error) {
		chunks, err := g.ingestDocument(ctx, docs[i])
		return docs[i].Title, chunks, err
	})

	g.invalidateCache()
	return result, nil
}

// CollectFiles walks a directory and returns all markdown and plain
// text files, optionally recursing into subdirectories.
func CollectFiles(dirPath string, recursive bool) ([]string, error) {
	var files []string
	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && !recursive && path != dirPath {
			return filepath.SkipDir
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !d.IsDir() && (ext == ".md" || ext == ".markdown" || ext == ".txt") {
			files = append(files, path)
		}
		return nil
	}

	if err := filepath.WalkDir(dirPath, walkFn); err != nil {
		return nil, fmt.Errorf("scan directory: %w", err)
	}
	return files, nil
}

// runWorkers processes total items with the configured worker count,
// aggregating counts and per-item errors.
func (g *Ingestor) runWorkers(ctx context.Context, total int, work func(ctx context.Context, i int) (title string, chunks int, err error)) *IngestResult {
	var (
		processed     atomic.Int32
		docsIngested  atomic.Int32
		chunksIndexed atomic.Int32
		errorsMu      sync.Mutex
		itemErrors    []string
	)

	itemChan := make(chan int, total)
	var wg sync.WaitGroup

	for w := 0; w < g.concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range itemChan {
				if ctx.Err() != nil {
					return
				}

				title, chunks, err := work(ctx, i)
				current := int(processed.Add(1))
				g.reportProgress(Progress{Stage: "ingest", Current: current, Total: total, Title: title})

				if err != nil {
					slog.Warn("ingest item failed", "worker", workerID, "item", title, "error", err)
					errorsMu.Lock()
					itemErrors = append(itemErrors, fmt.Sprintf("%s: %v", title, err))
					errorsMu.Unlock()
					continue
				}

				docsIngested.Add(1)
				chunksIndexed.Add(int32(chunks))
				slog.Info("ingested document", "worker", workerID, "title", title,
					"chunks", chunks, "progress", fmt.Sprintf("%d/%d", current, total))
			}
		}(w)
	}

	for i := 0; i < total; i++ {
		itemChan <- i
	}
	close(itemChan)
	wg.Wait()

	return &IngestResult{
		DocumentsIngested: int(docsIngested.Load()),
		ChunksIndexed:     int(chunksIndexed.Load()),
		Errors:            itemErrors,
	}
}

// ingestDocument chunks, embeds, and indexes one document, superseding
// any previous version of it.
func (g *Ingestor) ingestDocument(ctx context.Context, doc models.Document) (int, error) {
	doc.Metadata = enrichMetadata(doc)

	chunks, err := parser.Split(doc, g.chunking)
	if err != nil {
		if errors.Is(err, parser.ErrInvalidConfig) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
		return 0, fmt.Errorf("chunk document %s: %w", doc.ID, err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	if err := g.index.DeleteDocument(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("%w: supersede %s: %v", ErrIndexUnavailable, doc.ID, err)
	}

	for batchStart := 0; batchStart < len(chunks); batchStart += g.embedBatchSize {
		batchEnd := min(batchStart+g.embedBatchSize, len(chunks))
		batch := chunks[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := g.embedBatch(ctx, texts)
		if err != nil {
			return 0, err
		}

		if err := g.index.Upsert(ctx, batch, vectors, g.embedder.Model()); err != nil {
			return 0, fmt.Errorf("%w: index %s: %v", ErrIndexUnavailable, doc.ID, err)
		}
	}

	return len(chunks), nil
}

// embedBatch embeds chunk texts with the same bounded retry policy the
// retriever uses for queries.
func (g *Ingestor) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		embedStart := time.Now()
		v, err := g.embedder.EmbedBatch(ctx, texts)
		if g.collector != nil {
			g.collector.RecordTiming(metrics.OpEmbedding, time.Since(embedStart))
		}
		if err != nil {
			if isTransientEmbedError(err) {
				slog.Warn("batch embedding attempt failed, retrying", "batch_size", len(texts), "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		vectors = v
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.maxAttempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, embedding.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return vectors, nil
}

func (g *Ingestor) invalidateCache() {
	if g.retriever != nil {
		g.retriever.InvalidateCache()
	}
}

func (g *Ingestor) reportProgress(p Progress) {
	if g.onProgress == nil {
		return
	}
	g.progressMu.Lock()
	defer g.progressMu.Unlock()
	g.onProgress(p)
}

func (g *Ingestor) recordTiming(op string, start time.Time) {
	if g.collector != nil {
		g.collector.RecordTiming(op, time.Since(start))
	}
}

// enrichMetadata carries the document title and source into chunk
// metadata so citations can be built from a retrieved chunk alone.
func enrichMetadata(doc models.Document) map[string]string {
	meta := make(map[string]string, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	if doc.Title != "" {
		meta[models.MetaTitle] = doc.Title
	}
	if doc.SourceURI != "" {
		meta[models.MetaSource] = doc.SourceURI
	}
	return meta
}

// documentFromFile reads a local text or markdown file into a
// normalized document. The first markdown heading, when present, is
// used as the title.
func documentFromFile(path string) (models.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return models.Document{}, fmt.Errorf("read file: %w", err)
	}

	text := string(content)
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			break
		}
	}

	return models.Document{
		ID:        "file-" + slugify(filepath.Base(path)),
		SourceURI: path,
		Title:     title,
		Text:      text,
		Metadata:  map[string]string{},
		CreatedAt: time.Now(),
	}, nil
}

func slugify(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteRune('-')
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
