// Package server exposes the chatbot pipeline over a REST API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fixhow/fixhow/internal/models"
	"github.com/fixhow/fixhow/internal/service"
	"github.com/fixhow/fixhow/internal/session"
)

// Config bounds the HTTP server.
type Config struct {
	Port           string
	Version        string
	RequestTimeout time.Duration

	// SessionTTL is the idle age after which sessions are evicted.
	// Zero disables eviction.
	SessionTTL    time.Duration
	EvictInterval time.Duration
}

// Server serves the REST gateway around a Chatbot.
type Server struct {
	bot    *service.Chatbot
	logger *slog.Logger
	cfg    Config
}

// New creates a gateway server.
func New(bot *service.Chatbot, logger *slog.Logger, cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{bot: bot, logger: logger, cfg: cfg}
}

// Wire types shared with internal/client.

// InitializeRequest builds the knowledge base for a device.
type InitializeRequest struct {
	DeviceName string `json:"device_name"`
	MaxGuides  int    `json:"max_guides,omitempty"`
}

// QueryRequest asks a one-shot or session-bound question.
type QueryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}

// ChatRequest sends a conversational message; a missing session_id
// starts a new session.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ResetRequest clears one session when session_id is set, otherwise
// the whole knowledge base.
type ResetRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// AnswerResponse carries a synthesized answer with its sources.
type AnswerResponse struct {
	Answer    string            `json:"answer"`
	Sources   []models.Citation `json:"sources"`
	Model     string            `json:"model"`
	LatencyMs int64             `json:"latency_ms"`
	NoContext bool              `json:"no_context"`
	SessionID string            `json:"session_id,omitempty"`
}

// HealthResponse reports service readiness.
type HealthResponse struct {
	Status         string `json:"status"`
	Initialized    bool   `json:"initialized"`
	EmbeddingModel string `json:"embedding_model"`
	LLMModel       string `json:"llm_model"`
}

// HistoryResponse lists a session's turns, most recent last.
type HistoryResponse struct {
	SessionID string        `json:"session_id"`
	Turns     []models.Turn `json:"turns"`
}

// BannerResponse identifies the service.
type BannerResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler builds the route table wrapped in logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleBanner)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /initialize", s.handleInitialize)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("GET /sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)

	return LoggingMiddleware(s.logger)(mux)
}

// Run serves until the context is cancelled, then shuts down
// gracefully. The idle-session eviction ticker runs alongside.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: s.cfg.RequestTimeout + 10*time.Second, // headroom over the handler deadline
		IdleTimeout:  120 * time.Second,
	}

	evictCtx, stopEvict := context.WithCancel(ctx)
	defer stopEvict()
	if s.cfg.SessionTTL > 0 {
		go s.evictLoop(evictCtx)
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := s.bot.EvictIdleSessions(ctx, s.cfg.SessionTTL)
			if err != nil {
				s.logger.Warn("session eviction failed", "error", err)
				continue
			}
			if evicted > 0 {
				s.logger.Info("evicted idle sessions", "count", evicted, "older_than", s.cfg.SessionTTL)
			}
		}
	}
}

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BannerResponse{Service: "fixhow", Version: s.cfg.Version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	initialized, err := s.bot.Initialized(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		Initialized:    initialized,
		EmbeddingModel: s.bot.Embedder.Model(),
		LLMModel:       s.bot.Synthesizer.ModelName(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bot.Metrics.Snapshot())
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if !s.decode(w, r, &req) {
		return
	}

	// Knowledge base builds fetch and embed many guides; give them
	// more room than a single question.
	ctx, cancel := context.WithTimeout(r.Context(), 10*s.cfg.RequestTimeout)
	defer cancel()

	result, err := s.bot.Ingestor.BuildKnowledgeBase(ctx, req.DeviceName, req.MaxGuides)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	answer, err := s.bot.Ask(ctx, req.Question, req.SessionID, req.TopK)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse(answer, req.SessionID))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	// Create is idempotent, so an existing session id passes through
	// and an empty one starts a fresh session.
	sessionID, err := s.bot.Sessions.Create(ctx, req.SessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	answer, err := s.bot.Ask(ctx, req.Message, sessionID, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse(answer, sessionID))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if req.SessionID != "" {
		if err := s.bot.Sessions.Delete(ctx, req.SessionID); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "session cleared"})
		return
	}

	if err := s.bot.Reset(ctx); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "knowledge base cleared"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	maxTurns := 0
	if raw := r.URL.Query().Get("max_turns"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: max_turns %q", service.ErrInvalidConfiguration, raw))
			return
		}
		maxTurns = n
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	turns, err := s.bot.Sessions.History(ctx, id, maxTurns)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{SessionID: id, Turns: turns})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.bot.Sessions.Delete(ctx, r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// statusForError maps pipeline errors onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, service.ErrEmbeddingUnavailable),
		errors.Is(err, service.ErrIndexUnavailable),
		errors.Is(err, service.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func answerResponse(a *models.Answer, sessionID string) AnswerResponse {
	sources := a.Citations
	if sources == nil {
		sources = []models.Citation{}
	}
	return AnswerResponse{
		Answer:    a.Text,
		Sources:   sources,
		Model:     a.Model,
		LatencyMs: a.Latency.Milliseconds(),
		NoContext: a.NoContext,
		SessionID: sessionID,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("encode response", "error", err)
	}
}
