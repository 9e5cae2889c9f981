package service

import (
	"context"
	"fmt"

	"github.com/fixhow/fixhow/internal/config"
	"github.com/fixhow/fixhow/internal/db"
	"github.com/fixhow/fixhow/internal/embedding"
	"github.com/fixhow/fixhow/internal/ifixit"
	"github.com/fixhow/fixhow/internal/index"
	"github.com/fixhow/fixhow/internal/llm"
	"github.com/fixhow/fixhow/internal/models"
	"github.com/fixhow/fixhow/internal/session"
)

// Build constructs the full pipeline from configuration: providers,
// storage backends and the chatbot on top of them. The surreal index
// and session backends share one database connection, which the
// chatbot's Close releases.
func Build(ctx context.Context, cfg config.Config, onProgress func(Progress)) (*Chatbot, error) {
	embedder, err := embedding.New(embedding.Config{
		Provider:          embedding.ProviderType(cfg.EmbeddingProvider),
		Model:             cfg.EmbeddingModel,
		ExpectedDimension: cfg.EmbeddingDimension,
		OllamaHost:        cfg.OllamaHost,
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	model, err := llm.NewModel(ctx, llm.Config{
		Provider:        llm.ProviderType(cfg.LLMProvider),
		Model:           cfg.LLMModel,
		OllamaHost:      cfg.OllamaHost,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AWSRegion:       cfg.AWSRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}

	idx, sessions, err := buildBackends(ctx, cfg, embedder.Dimension())
	if err != nil {
		return nil, err
	}

	return NewChatbot(embedder, idx, sessions, model, ifixit.NewClient(cfg.IFixitAPIKey), ChatbotConfig{
		Retriever: RetrieverConfig{CacheSize: cfg.CacheSize},
		Synthesizer: SynthesizerConfig{
			TopK:            cfg.TopK,
			MinSimilarity:   cfg.MinSimilarity,
			MaxHistoryTurns: cfg.MaxHistoryTurns,
		},
		Ingestor: IngestorConfig{
			Chunking:    models.ChunkingConfig{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
			Concurrency: cfg.Concurrency,
			OnProgress:  onProgress,
		},
	})
}

func buildBackends(ctx context.Context, cfg config.Config, dimension int) (index.VectorIndex, session.Store, error) {
	var dbClient *db.Client

	if cfg.IndexBackend == config.IndexSurreal || cfg.SessionBackend == config.SessionsSurreal {
		var err error
		dbClient, err = db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := dbClient.InitSchema(ctx, dimension); err != nil {
			return nil, nil, fmt.Errorf("initialize schema: %w", err)
		}
	}

	var idx index.VectorIndex
	switch cfg.IndexBackend {
	case config.IndexSurreal:
		idx = index.NewSurrealIndex(dbClient)
	default:
		if cfg.ChromemPath != "" {
			persistent, err := index.NewPersistentChromemIndex(cfg.ChromemPath)
			if err != nil {
				return nil, nil, fmt.Errorf("open index at %s: %w", cfg.ChromemPath, err)
			}
			idx = persistent
		} else {
			idx = index.NewChromemIndex()
		}
	}

	var sessions session.Store
	if cfg.SessionBackend == config.SessionsSurreal {
		sessions = session.NewSurrealStore(dbClient)
	} else {
		sessions = session.NewMemoryStore()
	}

	return idx, sessions, nil
}
