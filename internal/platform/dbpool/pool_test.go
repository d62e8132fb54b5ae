package dbpool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestLimitsFromEnvClampsMinToMax(t *testing.T) {
	t.Setenv("DB_MIN_CONNS", "50")
	t.Setenv("DB_MAX_CONNS", "4")

	l := LimitsFromEnv()
	if l.MinConns != 4 || l.MaxConns != 4 {
		t.Fatalf("unexpected limits: %+v", l)
	}
}

func TestWaitForRetriesUntilSuccess(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	calls := 0
	err := WaitFor(context.Background(), logger, "schema", 5*time.Second, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WaitFor error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestWaitForStopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitFor(ctx, logger, "schema", 5*time.Second, func(context.Context) error {
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
