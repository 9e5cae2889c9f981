package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fixhow/fixhow/internal/embedding"
	"github.com/fixhow/fixhow/internal/index"
	"github.com/fixhow/fixhow/internal/metrics"
	"github.com/fixhow/fixhow/internal/models"
)

const (
	// defaultCacheSize bounds the retrieval cache when the caller
	// passes zero.
	defaultCacheSize = 128

	// defaultMaxAttempts bounds retries against a flaky embedding
	// provider. Only transient failures are retried.
	defaultMaxAttempts = 3

	initialRetryInterval = 200 * time.Millisecond
)

// RetrieverConfig bounds the retriever's cache and retry behavior.
// Zero values select defaults.
type RetrieverConfig struct {
	CacheSize   int
	MaxAttempts int
}

// Retriever embeds a question and finds the nearest indexed chunks.
// It never writes to the index.
type Retriever struct {
	embedder  embedding.Embedder
	index     index.VectorIndex
	collector *metrics.Collector

	maxAttempts int

	// cache holds results for unfiltered queries only; filtered
	// queries bypass it. The ingestor purges it after index writes.
	cache *lru.Cache[string, []models.RetrievalResult]
}

// NewRetriever creates a retriever over the given embedder and index.
// The metrics collector may be nil.
func NewRetriever(embedder embedding.Embedder, idx index.VectorIndex, collector *metrics.Collector, cfg RetrieverConfig) (*Retriever, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	cache, err := lru.New[string, []models.RetrievalResult](size)
	if err != nil {
		return nil, fmt.Errorf("create retrieval cache: %w", err)
	}

	return &Retriever{
		embedder:    embedder,
		index:       idx,
		collector:   collector,
		maxAttempts: attempts,
		cache:       cache,
	}, nil
}

// Retrieve returns the topK indexed chunks nearest to the query, most
// similar first, with ties broken by ascending chunk ID. An empty index
// yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, filter index.Filter) ([]models.RetrievalResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK %d must be positive", ErrInvalidConfiguration, topK)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidConfiguration)
	}

	start := time.Now()
	defer func() {
		r.recordTiming(metrics.OpRetrieval, time.Since(start))
	}()

	key := cacheKey(query, topK)
	if filter == nil {
		if cached, ok := r.cache.Get(key); ok {
			slog.Debug("retrieval cache hit", "query", query, "top_k", topK)
			return copyResults(cached), nil
		}
	}

	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	queryStart := time.Now()
	results, err := r.index.Query(ctx, vector, topK, r.embedder.Model(), filter)
	r.recordTiming(metrics.OpIndexQuery, time.Since(queryStart))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	orderResults(results)

	if filter == nil {
		r.cache.Add(key, copyResults(results))
	}
	return results, nil
}

// InvalidateCache drops every cached retrieval. The ingestor calls this
// after any index write so stale results never outlive the data.
func (r *Retriever) InvalidateCache() {
	r.cache.Purge()
}

// embedQuery embeds the query text with bounded exponential retry.
// Only transient provider errors are retried.
func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	var vector []float32

	operation := func() error {
		embedStart := time.Now()
		v, err := r.embedder.Embed(ctx, query)
		r.recordTiming(metrics.OpEmbedding, time.Since(embedStart))
		if err != nil {
			if isTransientEmbedError(err) {
				slog.Warn("embedding attempt failed, retrying", "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		vector = v
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxAttempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, embedding.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return vector, nil
}

func (r *Retriever) recordTiming(op string, d time.Duration) {
	if r.collector != nil {
		r.collector.RecordTiming(op, d)
	}
}

func isTransientEmbedError(err error) bool {
	return errors.Is(err, embedding.ErrUnavailable) || errors.Is(err, embedding.ErrRateLimited)
}

// orderResults sorts by descending similarity, breaking ties by
// ascending chunk ID so equal-score results are deterministic, then
// renumbers ranks.
func orderResults(results []models.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	for i := range results {
		results[i].Rank = i + 1
	}
}

// cacheKey normalizes the query so trivially different spellings of the
// same question share an entry.
func cacheKey(query string, topK int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return fmt.Sprintf("%s|%d", normalized, topK)
}

func copyResults(results []models.RetrievalResult) []models.RetrievalResult {
	out := make([]models.RetrievalResult, len(results))
	copy(out, results)
	return out
}
