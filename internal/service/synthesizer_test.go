package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fixhow/fixhow/internal/index"
	"github.com/fixhow/fixhow/internal/models"
	"github.com/fixhow/fixhow/internal/session"
)

const batteryGuideText = "Power off the phone before you start. " +
	"Remove the two pentalobe screws next to the charging port and pry up the battery gently. " +
	"Connect the new battery and check that the phone boots."

func newTestSynthesizer(t *testing.T, gen *fakeGenerator, store session.Store, cfg SynthesizerConfig, chunks ...models.Chunk) *Synthesizer {
	t.Helper()
	idx := index.NewChromemIndex()
	if len(chunks) > 0 {
		seedIndex(t, idx, chunks...)
	}
	r := newTestRetriever(t, &fakeEmbedder{}, idx)
	return NewSynthesizer(r, gen, store, nil, cfg)
}

func TestAnswer_CitesRetrievedChunk(t *testing.T) {
	chunk := mkChunk("ifixit-guide-42", 0, batteryGuideText)
	chunk.Metadata = map[string]string{
		models.MetaTitle:  "Phone Battery Replacement",
		models.MetaSource: "https://www.ifixit.com/Guide/42",
	}

	gen := &fakeGenerator{response: "Power off the phone, then remove the pentalobe screws [S1]. Pry the battery up gently [S1]."}
	s := newTestSynthesizer(t, gen, nil, SynthesizerConfig{}, chunk)

	answer, err := s.Answer(context.Background(), "how do I replace the battery", "", 2)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if answer.NoContext {
		t.Error("NoContext = true, want false")
	}
	if len(answer.Citations) != 1 {
		t.Fatalf("got %d citations, want 1: %+v", len(answer.Citations), answer.Citations)
	}
	cit := answer.Citations[0]
	if cit.ChunkID != chunk.ID {
		t.Errorf("citation chunk = %s, want %s", cit.ChunkID, chunk.ID)
	}
	if cit.Title != "Phone Battery Replacement" || cit.SourceURI != "https://www.ifixit.com/Guide/42" {
		t.Errorf("citation = %+v", cit)
	}
	if answer.Model != "fake-llama" {
		t.Errorf("Model = %q", answer.Model)
	}
	if answer.Latency <= 0 {
		t.Error("Latency not recorded")
	}

	if !strings.Contains(gen.lastUser, "[S1]") || !strings.Contains(gen.lastUser, batteryGuideText) {
		t.Errorf("prompt missing tagged passage:\n%s", gen.lastUser)
	}
}

func TestAnswer_NoContextBelowThreshold(t *testing.T) {
	chunk := mkChunk("ifixit-guide-42", 0, batteryGuideText)
	gen := &fakeGenerator{response: "No matching guide was found. In general, power the device off first."}
	s := newTestSynthesizer(t, gen, nil, SynthesizerConfig{}, chunk)

	// Nothing in the question overlaps the indexed guide.
	answer, err := s.Answer(context.Background(), "why does my toaster smell of fish", "", 2)
	if err != nil {
		t.Fatalf("Answer() error = %v, want best-effort answer", err)
	}
	if !answer.NoContext {
		t.Error("NoContext = false, want true")
	}
	if len(answer.Citations) != 0 {
		t.Errorf("no-context answer carries %d citations", len(answer.Citations))
	}
	if !strings.Contains(gen.lastSystem, "no passage relevant") {
		t.Errorf("no-context system prompt not used:\n%s", gen.lastSystem)
	}
}

func TestAnswer_NoContextOnEmptyIndex(t *testing.T) {
	gen := &fakeGenerator{response: "Nothing ingested yet."}
	s := newTestSynthesizer(t, gen, nil, SynthesizerConfig{})

	answer, err := s.Answer(context.Background(), "how do I replace the battery", "", 2)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !answer.NoContext {
		t.Error("NoContext = false, want true")
	}
}

func TestAnswer_DropsInvalidAndDuplicateTags(t *testing.T) {
	chunk := mkChunk("ifixit-guide-42", 0, batteryGuideText)
	gen := &fakeGenerator{response: "Remove the screws [S1], pry up [S1], and never trust [S7] or [S0]."}
	s := newTestSynthesizer(t, gen, nil, SynthesizerConfig{}, chunk)

	answer, err := s.Answer(context.Background(), "battery removal", "", 2)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(answer.Citations) != 1 {
		t.Fatalf("got %d citations, want 1: %+v", len(answer.Citations), answer.Citations)
	}
	if answer.Citations[0].ChunkID != chunk.ID {
		t.Errorf("citation chunk = %s", answer.Citations[0].ChunkID)
	}
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	s := newTestSynthesizer(t, &fakeGenerator{}, nil, SynthesizerConfig{})
	if _, err := s.Answer(context.Background(), "  ", "", 2); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestAnswer_RecordsExchangeInSession(t *testing.T) {
	store := session.NewMemoryStore()
	id, err := store.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	chunk := mkChunk("ifixit-guide-42", 0, batteryGuideText)
	gen := &fakeGenerator{response: "Remove the screws [S1]."}
	s := newTestSynthesizer(t, gen, store, SynthesizerConfig{}, chunk)

	if _, err := s.Answer(context.Background(), "how do I remove the battery", id, 2); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	turns, err := store.History(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Role != models.RoleUser || turns[1].Role != models.RoleAssistant {
		t.Errorf("turn roles = %s, %s", turns[0].Role, turns[1].Role)
	}
	if turns[1].Text != "Remove the screws [S1]." {
		t.Errorf("assistant turn = %q", turns[1].Text)
	}
}

func TestAnswer_HistoryFoldedIntoPrompt(t *testing.T) {
	store := session.NewMemoryStore()
	id, _ := store.Create(context.Background(), "")
	seedTurns := []models.Turn{
		{Role: models.RoleUser, Text: "what tools do I need", Timestamp: time.Now()},
		{Role: models.RoleAssistant, Text: "A spudger and a pentalobe screwdriver.", Timestamp: time.Now()},
	}
	if err := store.AppendTurns(context.Background(), id, seedTurns...); err != nil {
		t.Fatalf("AppendTurns() error = %v", err)
	}

	chunk := mkChunk("ifixit-guide-42", 0, batteryGuideText)
	gen := &fakeGenerator{response: "Yes, the same screwdriver works [S1]."}
	s := newTestSynthesizer(t, gen, store, SynthesizerConfig{}, chunk)

	if _, err := s.Answer(context.Background(), "will the battery need that screwdriver too", id, 2); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if !strings.Contains(gen.lastUser, "Conversation so far") ||
		!strings.Contains(gen.lastUser, "A spudger and a pentalobe screwdriver.") {
		t.Errorf("history missing from prompt:\n%s", gen.lastUser)
	}
}

func TestAnswer_HistoryBounded(t *testing.T) {
	store := session.NewMemoryStore()
	id, _ := store.Create(context.Background(), "")
	for i := 0; i < 10; i++ {
		err := store.AppendTurns(context.Background(), id,
			models.Turn{Role: models.RoleUser, Text: "question " + string(rune('a'+i)), Timestamp: time.Now()},
			models.Turn{Role: models.RoleAssistant, Text: "answer " + string(rune('a'+i)), Timestamp: time.Now()},
		)
		if err != nil {
			t.Fatalf("AppendTurns() error = %v", err)
		}
	}

	chunk := mkChunk("ifixit-guide-42", 0, batteryGuideText)
	gen := &fakeGenerator{response: "ok [S1]"}
	s := newTestSynthesizer(t, gen, store, SynthesizerConfig{MaxHistoryTurns: 4}, chunk)

	if _, err := s.Answer(context.Background(), "battery question", id, 2); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	// Oldest turns are truncated; only the most recent four remain.
	if strings.Contains(gen.lastUser, "question a") {
		t.Error("oldest turn leaked into bounded prompt")
	}
	if !strings.Contains(gen.lastUser, "answer j") {
		t.Error("most recent turn missing from prompt")
	}
}

func TestAnswer_UnknownSession(t *testing.T) {
	store := session.NewMemoryStore()
	s := newTestSynthesizer(t, &fakeGenerator{response: "x"}, store, SynthesizerConfig{},
		mkChunk("ifixit-guide-42", 0, batteryGuideText))

	_, err := s.Answer(context.Background(), "battery", "no-such-session", 2)
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("error = %v, want session.ErrNotFound", err)
	}
}

func TestAnswer_GenerationFailureLeavesHistoryUnchanged(t *testing.T) {
	store := session.NewMemoryStore()
	id, _ := store.Create(context.Background(), "")

	chunk := mkChunk("ifixit-guide-42", 0, batteryGuideText)
	gen := &fakeGenerator{err: errors.New("model exploded")}
	s := newTestSynthesizer(t, gen, store, SynthesizerConfig{MaxAttempts: 1}, chunk)

	_, err := s.Answer(context.Background(), "battery question", id, 2)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}

	turns, err := store.History(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("failed synthesis appended %d turns", len(turns))
	}
}

func TestAnswer_RetriesTransientGenerationFailure(t *testing.T) {
	chunk := mkChunk("ifixit-guide-42", 0, batteryGuideText)
	gen := &fakeGenerator{
		failures: 1,
		response: "Pry the battery up gently [S1].",
	}
	s := newTestSynthesizer(t, gen, nil, SynthesizerConfig{}, chunk)

	answer, err := s.Answer(context.Background(), "battery question", "", 2)
	if err != nil {
		t.Fatalf("Answer() error = %v, want success after retry", err)
	}
	if gen.callCount() != 2 {
		t.Errorf("model calls = %d, want 2", gen.callCount())
	}
	if len(answer.Citations) != 1 {
		t.Errorf("got %d citations, want 1", len(answer.Citations))
	}
}

func TestAnswer_ExhaustsGenerationRetries(t *testing.T) {
	chunk := mkChunk("ifixit-guide-42", 0, batteryGuideText)
	gen := &fakeGenerator{failures: 10}
	s := newTestSynthesizer(t, gen, nil, SynthesizerConfig{MaxAttempts: 3}, chunk)

	_, err := s.Answer(context.Background(), "battery question", "", 2)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}
	if gen.callCount() != 3 {
		t.Errorf("model calls = %d, want 3", gen.callCount())
	}
}

func TestAnswer_FatalProviderErrorNotRetried(t *testing.T) {
	chunk := mkChunk("ifixit-guide-42", 0, batteryGuideText)
	gen := &fakeGenerator{err: errors.New("invalid api key")}
	s := newTestSynthesizer(t, gen, nil, SynthesizerConfig{}, chunk)

	_, err := s.Answer(context.Background(), "battery question", "", 2)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}
	if gen.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", gen.callCount())
	}
}

func TestAnswer_DeadlineSurfacesAsTimeout(t *testing.T) {
	chunk := mkChunk("ifixit-guide-42", 0, batteryGuideText)
	gen := &fakeGenerator{err: context.DeadlineExceeded}
	s := newTestSynthesizer(t, gen, nil, SynthesizerConfig{}, chunk)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := s.Answer(ctx, "battery question", "", 2)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}
