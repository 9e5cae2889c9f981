package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fixhow/fixhow/internal/embedding"
	"github.com/fixhow/fixhow/internal/index"
	"github.com/fixhow/fixhow/internal/metrics"
	"github.com/fixhow/fixhow/internal/models"
	"github.com/fixhow/fixhow/internal/session"
)

// Chatbot aggregates the pipeline behind one object the gateway and
// CLI share. Construct once, Close once.
type Chatbot struct {
	Embedder    embedding.Embedder
	Index       index.VectorIndex
	Sessions    session.Store
	Retriever   *Retriever
	Synthesizer *Synthesizer
	Ingestor    *Ingestor
	Metrics     *metrics.Collector
}

// ChatbotConfig carries the tunables for each pipeline stage.
type ChatbotConfig struct {
	Retriever   RetrieverConfig
	Synthesizer SynthesizerConfig
	Ingestor    IngestorConfig
}

// NewChatbot wires the pipeline together. The guide source may be nil
// when only local files are ingested.
func NewChatbot(embedder embedding.Embedder, idx index.VectorIndex, sessions session.Store, model Generator, guides GuideSource, cfg ChatbotConfig) (*Chatbot, error) {
	collector := metrics.NewCollector()

	retriever, err := NewRetriever(embedder, idx, collector, cfg.Retriever)
	if err != nil {
		return nil, err
	}

	return &Chatbot{
		Embedder:    embedder,
		Index:       idx,
		Sessions:    sessions,
		Retriever:   retriever,
		Synthesizer: NewSynthesizer(retriever, model, sessions, collector, cfg.Synthesizer),
		Ingestor:    NewIngestor(guides, embedder, idx, retriever, collector, cfg.Ingestor),
		Metrics:     collector,
	}, nil
}

// Initialized reports whether the knowledge base holds any chunks for
// the active embedding model.
func (c *Chatbot) Initialized(ctx context.Context) (bool, error) {
	count, err := c.Index.Count(ctx, c.Embedder.Model())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return count > 0, nil
}

// Ask answers a question, refusing with ErrNotInitialized when nothing
// has been ingested yet.
func (c *Chatbot) Ask(ctx context.Context, question, sessionID string, topK int) (*models.Answer, error) {
	initialized, err := c.Initialized(ctx)
	if err != nil {
		return nil, err
	}
	if !initialized {
		return nil, ErrNotInitialized
	}
	return c.Synthesizer.Answer(ctx, question, sessionID, topK)
}

// Reset drops every chunk indexed under the active embedding model and
// clears the retrieval cache.
func (c *Chatbot) Reset(ctx context.Context) error {
	if err := c.Index.PurgeModel(ctx, c.Embedder.Model()); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	c.Retriever.InvalidateCache()
	return nil
}

// EvictIdleSessions removes sessions inactive longer than the given
// age. Used by the gateway's eviction ticker.
func (c *Chatbot) EvictIdleSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	if c.Sessions == nil {
		return 0, nil
	}
	return c.Sessions.EvictIdle(ctx, olderThan)
}

// Close releases backend connections.
func (c *Chatbot) Close(ctx context.Context) error {
	var errs []error
	if c.Index != nil {
		if err := c.Index.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
	}
	if c.Sessions != nil {
		if err := c.Sessions.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
	}
	return errors.Join(errs...)
}
