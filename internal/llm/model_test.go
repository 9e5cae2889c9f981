package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"unauthorized", errors.New("unauthorized request"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"wrapped error", fmt.Errorf("generate: %w", errors.New("billing account inactive")), true},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isFatalAPIError(tt.err); got != tt.fatal {
				t.Errorf("isFatalAPIError(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("wraps fatal error", func(t *testing.T) {
		wrapped := wrapFatalError(errors.New("invalid api key provided"))
		if !errors.Is(wrapped, ErrFatalAPI) {
			t.Errorf("expected wrapped error to match ErrFatalAPI")
		}
	})

	t.Run("passes through non-fatal error", func(t *testing.T) {
		err := errors.New("network timeout")
		if result := wrapFatalError(err); result != err {
			t.Errorf("expected original error returned, got %v", result)
		}
	})
}

func TestNewModel_UnknownProvider(t *testing.T) {
	_, err := NewModel(context.Background(), Config{Provider: "mainframe"})
	if err == nil {
		t.Fatal("NewModel() with unknown provider should fail")
	}
}

func TestNewModel_MissingKeys(t *testing.T) {
	if _, err := NewModel(context.Background(), Config{Provider: ProviderOpenAI, Model: "gpt-4o-mini"}); err == nil {
		t.Error("openai provider without key should fail")
	}
	if _, err := NewModel(context.Background(), Config{Provider: ProviderAnthropic, Model: "claude-3-haiku"}); err == nil {
		t.Error("anthropic provider without key should fail")
	}
}
