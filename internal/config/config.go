// Package config loads and validates runtime configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Index backend identifiers.
const (
	IndexChromem = "chromem"
	IndexSurreal = "surreal"
)

// Session backend identifiers.
const (
	SessionsMemory  = "memory"
	SessionsSurreal = "surreal"
)

// Config holds all configuration values.
type Config struct {
	// Vector index backend: chromem (embedded) or surreal.
	IndexBackend string `yaml:"index_backend"`
	// ChromemPath persists the embedded index; empty means in-memory.
	ChromemPath string `yaml:"chromem_path"`

	// Session backend: memory or surreal.
	SessionBackend string `yaml:"session_backend"`

	// SurrealDB connection (surreal index or session backend).
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// Embedding provider.
	EmbeddingProvider  string `yaml:"embedding_provider"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`
	OllamaHost         string `yaml:"ollama_host"`

	// LLM provider.
	LLMProvider string `yaml:"llm_provider"`
	LLMModel    string `yaml:"llm_model"`
	AWSRegion   string `yaml:"aws_region"`

	// API keys come from the environment only, never from files.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	IFixitAPIKey    string `yaml:"-"`

	// Pipeline tuning.
	ChunkSize       int     `yaml:"chunk_size"`
	ChunkOverlap    int     `yaml:"chunk_overlap"`
	TopK            int     `yaml:"top_k"`
	MinSimilarity   float32 `yaml:"min_similarity"`
	MaxHistoryTurns int     `yaml:"max_history_turns"`
	CacheSize       int     `yaml:"cache_size"`
	Concurrency     int     `yaml:"concurrency"`
	MaxGuides       int     `yaml:"max_guides"`

	// Server.
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SessionTTL     time.Duration `yaml:"session_ttl"`

	// Logging.
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables. Pipeline
// defaults follow the chatbot's original tuning: 256-char chunks with
// 25 overlap, two passages per question.
func Load() Config {
	return Config{
		IndexBackend:   getEnv("FIXHOW_INDEX_BACKEND", IndexChromem),
		ChromemPath:    getEnv("FIXHOW_CHROMEM_PATH", defaultChromemPath()),
		SessionBackend: getEnv("FIXHOW_SESSION_BACKEND", SessionsMemory),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "fixhow"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "knowledge"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		EmbeddingProvider:  getEnv("FIXHOW_EMBEDDING_PROVIDER", "ollama"),
		EmbeddingModel:     getEnv("FIXHOW_EMBEDDING_MODEL", "all-minilm:l6-v2"),
		EmbeddingDimension: getEnvInt("FIXHOW_EMBEDDING_DIMENSION", 0),
		OllamaHost:         getEnv("OLLAMA_HOST", "http://localhost:11434"),

		LLMProvider: getEnv("FIXHOW_LLM_PROVIDER", "ollama"),
		LLMModel:    getEnv("FIXHOW_LLM_MODEL", "llama2"),
		AWSRegion:   getEnv("AWS_REGION", "us-east-1"),

		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		IFixitAPIKey:    os.Getenv("IFIXIT_API_KEY"),

		ChunkSize:       getEnvInt("FIXHOW_CHUNK_SIZE", 256),
		ChunkOverlap:    getEnvInt("FIXHOW_CHUNK_OVERLAP", 25),
		TopK:            getEnvInt("FIXHOW_TOP_K", 2),
		MinSimilarity:   getEnvFloat("FIXHOW_MIN_SIMILARITY", 0.25),
		MaxHistoryTurns: getEnvInt("FIXHOW_MAX_HISTORY_TURNS", 12),
		CacheSize:       getEnvInt("FIXHOW_CACHE_SIZE", 128),
		Concurrency:     getEnvInt("FIXHOW_CONCURRENCY", 4),
		MaxGuides:       getEnvInt("FIXHOW_MAX_GUIDES", 5),

		Port:           getEnv("FIXHOW_PORT", "8080"),
		RequestTimeout: getEnvDuration("FIXHOW_REQUEST_TIMEOUT", 60*time.Second),
		SessionTTL:     getEnvDuration("FIXHOW_SESSION_TTL", 30*time.Minute),

		LogFile:  getEnv("FIXHOW_LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("FIXHOW_LOG_LEVEL", "INFO")),
	}
}

// LoadWithFile loads environment configuration, then overlays the YAML
// file when path is non-empty. Values present in the file win; API
// keys stay environment-only.
func LoadWithFile(path string) (Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects out-of-range values eagerly so misconfiguration
// fails at startup, not mid-request.
func (c Config) Validate() error {
	if c.IndexBackend != IndexChromem && c.IndexBackend != IndexSurreal {
		return fmt.Errorf("index_backend %q: must be %q or %q", c.IndexBackend, IndexChromem, IndexSurreal)
	}
	if c.SessionBackend != SessionsMemory && c.SessionBackend != SessionsSurreal {
		return fmt.Errorf("session_backend %q: must be %q or %q", c.SessionBackend, SessionsMemory, SessionsSurreal)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size %d: must be positive", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap %d: must be non-negative", c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap %d: must be smaller than chunk_size %d", c.ChunkOverlap, c.ChunkSize)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k %d: must be positive", c.TopK)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity %f: must be within [0, 1]", c.MinSimilarity)
	}
	if c.MaxHistoryTurns <= 0 {
		return fmt.Errorf("max_history_turns %d: must be positive", c.MaxHistoryTurns)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache_size %d: must be positive", c.CacheSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency %d: must be positive", c.Concurrency)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout %s: must be positive", c.RequestTimeout)
	}
	return nil
}

// defaultChromemPath keeps the embedded index under the user's home so
// it survives across CLI invocations. Empty (in-memory) when no home
// directory is resolvable.
func defaultChromemPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fixhow", "index")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float32) float32 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 32); err == nil {
			return float32(f)
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
