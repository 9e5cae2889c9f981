// Package embedding provides text embedding generation with multiple
// backend support.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors classifying provider failures. The retriever retries
// ErrUnavailable and ErrRateLimited with backoff; ErrInvalidInput is
// surfaced immediately.
var (
	// ErrUnavailable indicates the provider could not be reached or
	// answered with a server-side failure.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrInvalidInput indicates the provider rejected the input text.
	ErrInvalidInput = errors.New("embedding input rejected")

	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("embedding provider rate limited")
)

// Embedder maps text to fixed-length numeric vectors.
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	// More efficient than multiple Embed calls for bulk ingestion.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimension returns the embedding vector dimension.
	// Must match the vector index dimension.
	Dimension() int
}

// ProviderType identifies the embedding provider.
type ProviderType string

const (
	// ProviderOllama uses a local Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses the OpenAI embeddings API.
	ProviderOpenAI ProviderType = "openai"
)

// Config holds configuration for creating an Embedder.
type Config struct {
	Provider ProviderType

	// Model is the embedding model name (provider-specific).
	// Ollama: "all-minilm:l6-v2" (384-dim), "nomic-embed-text" (768-dim).
	Model string

	// ExpectedDimension is the required output dimension.
	// Zero means the provider default.
	ExpectedDimension int

	// OllamaHost is the Ollama server URL (ollama provider).
	OllamaHost string

	// OpenAIAPIKey authenticates the openai provider.
	OpenAIAPIKey string
}

// New creates an Embedder based on the provided configuration.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		return NewOllamaClient(cfg.OllamaHost, cfg.Model, cfg.ExpectedDimension)

	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai embedding provider requires API key")
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.Model, cfg.ExpectedDimension)

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
