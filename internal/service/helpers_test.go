package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/fixhow/fixhow/internal/ifixit"
	"github.com/fixhow/fixhow/internal/llm"
)

// fakeEmbedder derives small keyword vectors so tests can steer which
// chunks a query lands on.
type fakeEmbedder struct {
	mu         sync.Mutex
	calls      int
	failures   int // failures to inject before succeeding
	alwaysFail bool
	err        error
}

func (f *fakeEmbedder) embed(text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.alwaysFail {
		return nil, f.err
	}
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	return keywordVector(text), nil
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return f.embed(text)
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string  { return "fake-minilm" }
func (f *fakeEmbedder) Dimension() int { return 4 }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func keywordVector(text string) []float32 {
	v := []float32{0, 0, 0, 0.05}
	t := strings.ToLower(text)
	if strings.Contains(t, "battery") {
		v[0] = 1
	}
	if strings.Contains(t, "screen") {
		v[1] = 1
	}
	if strings.Contains(t, "keyboard") {
		v[2] = 1
	}
	return v
}

// fakeGenerator records the prompts it was given and replies with a
// canned response.
type fakeGenerator struct {
	mu         sync.Mutex
	response   string
	err        error
	failures   int // failures to inject before succeeding
	calls      int
	lastSystem string
	lastUser   string
}

func (f *fakeGenerator) GenerateWithSystem(_ context.Context, systemPrompt, userPrompt string, _ llm.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.failures > 0 {
		f.failures--
		return "", errors.New("connection reset by peer")
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGenerator) Model() string { return "fake-llama" }

// fakeGuideSource serves canned search hits and guides.
type fakeGuideSource struct {
	mu        sync.Mutex
	hits      []ifixit.SearchResult
	guides    map[int]*ifixit.Guide
	searchErr error
	guideErr  map[int]error
	fetched   []int
}

func (f *fakeGuideSource) Search(_ context.Context, _ string) ([]ifixit.SearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *fakeGuideSource) GetGuide(_ context.Context, guideID int) (*ifixit.Guide, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, guideID)
	f.mu.Unlock()

	if err := f.guideErr[guideID]; err != nil {
		return nil, err
	}
	g, ok := f.guides[guideID]
	if !ok {
		return nil, ifixitNotFound
	}
	return g, nil
}

func (f *fakeGuideSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

var ifixitNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "guide not found" }
