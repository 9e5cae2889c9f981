package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fixhow/fixhow/internal/llm"
	"github.com/fixhow/fixhow/internal/metrics"
	"github.com/fixhow/fixhow/internal/models"
	"github.com/fixhow/fixhow/internal/session"
)

const (
	defaultTopK            = 2
	defaultMinSimilarity   = 0.25
	defaultMaxHistoryTurns = 12
)

const answerSystemPrompt = `You are a repair guidance assistant. Answer the user's question using only the provided passages from repair guides.
Each passage is tagged [S1], [S2], and so on. When a claim in your answer comes from a passage, include its tag, for example: "Disconnect the battery first [S1]."
Use only tags that appear in the passages. If the passages do not fully answer the question, say what is missing.
Be concise and practical. Warn about safety-critical steps.`

const noContextSystemPrompt = `You are a repair guidance assistant. The knowledge base contains no passage relevant to this question.
Say clearly that no matching guide was found, offer brief general advice if you safely can, and suggest loading guides for the device in question.
Do not invent guide content or cite sources.`

// citationTagRe matches the [S#] tags the model is instructed to emit.
var citationTagRe = regexp.MustCompile(`\[S(\d+)\]`)

// Generator is the text-generation surface the synthesizer needs.
// *llm.Model implements it.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string, opts llm.Options) (string, error)
	Model() string
}

var _ Generator = (*llm.Model)(nil)

// SynthesizerConfig bounds prompt construction and generation.
// Zero values select defaults.
type SynthesizerConfig struct {
	// TopK is the number of passages retrieved per question.
	TopK int

	// MinSimilarity drops passages scoring below it. Questions where
	// nothing passes get a best-effort answer flagged NoContext.
	MinSimilarity float32

	// MaxHistoryTurns bounds the conversation context; older turns are
	// truncated first.
	MaxHistoryTurns int

	// MaxTokens caps answer length. Zero means provider default.
	MaxTokens int

	// MaxAttempts bounds generation retries. Only transient provider
	// failures are retried; fatal API errors and cancellation are not.
	MaxAttempts int
}

// Synthesizer turns a question into a cited answer: retrieve passages,
// prompt the model, parse citations, record the exchange.
type Synthesizer struct {
	retriever *Retriever
	model     Generator
	sessions  session.Store
	collector *metrics.Collector

	topK            int
	minSimilarity   float32
	maxHistoryTurns int
	maxTokens       int
	maxAttempts     int
}

// NewSynthesizer creates a synthesizer. The session store and metrics
// collector may be nil; without a store every question is standalone.
func NewSynthesizer(retriever *Retriever, model Generator, sessions session.Store, collector *metrics.Collector, cfg SynthesizerConfig) *Synthesizer {
	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	minSim := cfg.MinSimilarity
	if minSim <= 0 {
		minSim = defaultMinSimilarity
	}
	maxHistory := cfg.MaxHistoryTurns
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistoryTurns
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	return &Synthesizer{
		retriever:       retriever,
		model:           model,
		sessions:        sessions,
		collector:       collector,
		topK:            topK,
		minSimilarity:   minSim,
		maxHistoryTurns: maxHistory,
		maxTokens:       cfg.MaxTokens,
		maxAttempts:     attempts,
	}
}

// ModelName reports the generation model in use.
func (s *Synthesizer) ModelName() string {
	return s.model.Model()
}

// Answer retrieves passages for the question and synthesizes a cited
// answer. When sessionID is non-empty, the history of that session is
// folded into the prompt and the exchange is appended after synthesis
// succeeds; failures leave the history unchanged. topK <= 0 selects the
// configured default.
func (s *Synthesizer) Answer(ctx context.Context, question, sessionID string, topK int) (*models.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", ErrInvalidConfiguration)
	}
	if topK <= 0 {
		topK = s.topK
	}

	start := time.Now()

	var history []models.Turn
	if sessionID != "" && s.sessions != nil {
		var err error
		history, err = s.sessions.History(ctx, sessionID, s.maxHistoryTurns)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	results, err := s.retriever.Retrieve(ctx, question, topK, nil)
	if err != nil {
		return nil, err
	}

	kept := results[:0:0]
	for _, res := range results {
		if res.Score >= s.minSimilarity {
			kept = append(kept, res)
		}
	}
	if len(results) > 0 && len(kept) == 0 {
		slog.Debug("all passages below similarity threshold",
			"question", question, "best_score", results[0].Score, "threshold", s.minSimilarity)
	}

	var answer *models.Answer
	if len(kept) == 0 {
		answer, err = s.answerWithoutContext(ctx, question, history)
	} else {
		answer, err = s.answerWithContext(ctx, question, history, kept)
	}
	if err != nil {
		return nil, err
	}
	answer.Model = s.model.Model()
	answer.Latency = time.Since(start)

	if sessionID != "" && s.sessions != nil {
		now := time.Now()
		turns := []models.Turn{
			{Role: models.RoleUser, Text: question, Timestamp: now},
			{Role: models.RoleAssistant, Text: answer.Text, Timestamp: now},
		}
		if err := s.sessions.AppendTurns(ctx, sessionID, turns...); err != nil {
			return nil, fmt.Errorf("record exchange: %w", err)
		}
	}

	return answer, nil
}

func (s *Synthesizer) answerWithContext(ctx context.Context, question string, history []models.Turn, passages []models.RetrievalResult) (*models.Answer, error) {
	prompt := buildUserPrompt(question, history, passages)

	text, err := s.generate(ctx, answerSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	return &models.Answer{
		Text:      text,
		Citations: parseCitations(text, passages),
	}, nil
}

// answerWithoutContext produces a best-effort answer when retrieval
// found nothing above the threshold. Never cites.
func (s *Synthesizer) answerWithoutContext(ctx context.Context, question string, history []models.Turn) (*models.Answer, error) {
	text, err := s.generate(ctx, noContextSystemPrompt, buildUserPrompt(question, history, nil))
	if err != nil {
		return nil, err
	}

	return &models.Answer{
		Text:      text,
		Citations: []models.Citation{},
		NoContext: true,
	}, nil
}

// generate invokes the model with bounded exponential retry. Fatal API
// errors and cancellation are never retried.
func (s *Synthesizer) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var text string

	operation := func() error {
		genStart := time.Now()
		out, err := s.model.GenerateWithSystem(ctx, systemPrompt, userPrompt, llm.Options{
			MaxTokens: s.maxTokens,
		})
		if s.collector != nil {
			s.collector.RecordTiming(metrics.OpLLMGenerate, time.Since(genStart))
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || llm.IsFatal(err) {
				return backoff.Permanent(err)
			}
			slog.Warn("generation attempt failed, retrying", "error", err)
			return err
		}
		text = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", context.DeadlineExceeded
		}
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return text, nil
}

// buildUserPrompt lays out tagged passages, the conversation so far,
// and the question.
func buildUserPrompt(question string, history []models.Turn, passages []models.RetrievalResult) string {
	var b strings.Builder

	if len(passages) > 0 {
		b.WriteString("Passages:\n")
		for i, res := range passages {
			title := res.Chunk.Metadata[models.MetaTitle]
			if title == "" {
				title = res.Chunk.DocumentID
			}
			fmt.Fprintf(&b, "\n[S%d] %s\n%s\n", i+1, title, res.Chunk.Text)
		}
		b.WriteString("\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range history {
			label := "User"
			if turn.Role == models.RoleAssistant {
				label = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", label, turn.Text)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}

// parseCitations extracts the [S#] tags from the answer and resolves
// them against the passages retrieved for this call. Tags outside the
// retrieved range are dropped, so a citation can never point at a chunk
// that was not retrieved.
func parseCitations(text string, passages []models.RetrievalResult) []models.Citation {
	citations := make([]models.Citation, 0, len(passages))
	seen := make(map[int]struct{})

	for _, match := range citationTagRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > len(passages) {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}

		chunk := passages[n-1].Chunk
		citations = append(citations, models.Citation{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Title:      chunk.Metadata[models.MetaTitle],
			SourceURI:  chunk.Metadata[models.MetaSource],
			Score:      passages[n-1].Score,
		})
	}

	return citations
}
