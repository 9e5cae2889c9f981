package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fixhow/fixhow/internal/db"
)

func TestRetryOnConflict_RetriesConflicts(t *testing.T) {
	calls := 0
	err := retryOnConflict(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("append turns: %w", db.ErrTransactionConflict)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryOnConflict() error = %v, want success on third attempt", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryOnConflict_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := retryOnConflict(context.Background(), 3, func() error {
		calls++
		return fmt.Errorf("append turns: %w", db.ErrTransactionConflict)
	})
	if !errors.Is(err, db.ErrTransactionConflict) {
		t.Fatalf("error = %v, want ErrTransactionConflict", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryOnConflict_OtherErrorsNotRetried(t *testing.T) {
	boom := errors.New("connection dropped")
	calls := 0
	err := retryOnConflict(context.Background(), 3, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want the original error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryOnConflict_CancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryOnConflict(ctx, 3, func() error {
		calls++
		cancel()
		return fmt.Errorf("append turns: %w", db.ErrTransactionConflict)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
