package store

import (
	"context"
	"errors"
	"testing"
)

func TestWithRetrySucceedsWithoutRetrying(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestWithRetryRetriesUpToThreeTimes(t *testing.T) {
	calls := 0
	failing := errors.New("transient failure")
	err := WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return failing
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on the third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetrySurfacesErrorAfterMaxAttempts(t *testing.T) {
	calls := 0
	failing := errors.New("store is down")
	err := WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return failing
	})
	if !errors.Is(err, failing) {
		t.Fatalf("expected the last error to be surfaced, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := WithRetry(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the backoff wait to observe cancellation after the first attempt, got %d calls", calls)
	}
}
