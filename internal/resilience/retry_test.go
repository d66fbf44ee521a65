package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"quotekeeper/internal/domain"

	"github.com/rs/zerolog"
)

type recorderStub struct {
	ops []string
}

func (r *recorderStub) RecordError(operation string) {
	r.ops = append(r.ops, operation)
}

func newTestExecutor(stats FailureRecorder) (*Executor, *[]time.Duration) {
	e := NewExecutor(zerolog.Nop(), stats)
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	e.randFloat = func() float64 { return 0 }
	return e, &slept
}

func TestRetryExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	t.Parallel()

	recorder := &recorderStub{}
	e, slept := newTestExecutor(recorder)

	wantErr := domain.Transient(errors.New("timeout"))
	calls := 0
	_, err := Retry(context.Background(), e, RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second},
		domain.NewErrorContext("fetch-quote", "coingecko", "BTC"),
		func(context.Context) (*domain.Quote, error) {
			calls++
			return nil, wantErr
		})

	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error unchanged, got %v", err)
	}
	if len(*slept) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(*slept))
	}
	if len(recorder.ops) != 1 || recorder.ops[0] != "fetch-quote" {
		t.Fatalf("expected one recorded failure, got %v", recorder.ops)
	}
}

func TestRetrySucceedsMidway(t *testing.T) {
	t.Parallel()

	recorder := &recorderStub{}
	e, _ := newTestExecutor(recorder)

	calls := 0
	got, err := Retry(context.Background(), e, RetryConfig{MaxAttempts: 5},
		domain.NewErrorContext("fetch-quote", "binance", "ETH"),
		func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, domain.Transient(errors.New("connection refused"))
			}
			return 42, nil
		})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Fatalf("expected success on attempt 3, got %d after %d calls", got, calls)
	}
	if len(recorder.ops) != 0 {
		t.Fatalf("no failure should be recorded on recovery, got %v", recorder.ops)
	}
}

func TestRetryFatalErrorNotRetried(t *testing.T) {
	t.Parallel()

	recorder := &recorderStub{}
	e, slept := newTestExecutor(recorder)

	wantErr := domain.Fatal(errors.New("unknown symbol"))
	calls := 0
	_, err := Retry(context.Background(), e, RetryConfig{MaxAttempts: 10},
		domain.NewErrorContext("fetch-quote", "coingecko", "???"),
		func(context.Context) (int, error) {
			calls++
			return 0, wantErr
		})

	if calls != 1 {
		t.Fatalf("fatal errors must not be retried, got %d calls", calls)
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fatal error propagated, got %v", err)
	}
	if len(*slept) != 0 {
		t.Fatalf("no backoff expected, got %v", *slept)
	}
	if len(recorder.ops) != 1 {
		t.Fatalf("fatal failure should be recorded, got %v", recorder.ops)
	}
}

func TestRetrySingleAttempt(t *testing.T) {
	t.Parallel()

	e, slept := newTestExecutor(nil)

	calls := 0
	_, err := Retry(context.Background(), e, RetryConfig{MaxAttempts: 1},
		domain.NewErrorContext("ping", "cache", ""),
		func(context.Context) (struct{}, error) {
			calls++
			return struct{}{}, domain.Transient(errors.New("down"))
		})

	if calls != 1 || err == nil {
		t.Fatalf("expected single failing attempt, calls=%d err=%v", calls, err)
	}
	if len(*slept) != 0 {
		t.Fatalf("maxAttempts=1 must not sleep, got %v", *slept)
	}
}

func TestRetryBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	e, _ := newTestExecutor(nil)

	cfg := normalize(RetryConfig{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond})
	if d := e.backoff(cfg, 1); d != 100*time.Millisecond {
		t.Fatalf("attempt 1: expected 100ms, got %v", d)
	}
	if d := e.backoff(cfg, 2); d != 200*time.Millisecond {
		t.Fatalf("attempt 2: expected 200ms, got %v", d)
	}
	if d := e.backoff(cfg, 4); d != 300*time.Millisecond {
		t.Fatalf("attempt 4: expected cap 300ms, got %v", d)
	}
}

func TestRetryJitterStaysInBounds(t *testing.T) {
	t.Parallel()

	e, _ := newTestExecutor(nil)
	e.randFloat = func() float64 { return 0.999 }

	cfg := normalize(RetryConfig{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute, JitterFactor: 0.5})
	d := e.backoff(cfg, 1)
	if d < 100*time.Millisecond || d >= 150*time.Millisecond {
		t.Fatalf("jittered delay out of bounds: %v", d)
	}
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	e := NewExecutor(zerolog.Nop(), nil)
	e.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	calls := 0
	_, err := Retry(context.Background(), e, RetryConfig{MaxAttempts: 5},
		domain.NewErrorContext("fetch-quote", "coingecko", "BTC"),
		func(context.Context) (int, error) {
			calls++
			return 0, domain.Transient(errors.New("timeout"))
		})

	if calls != 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
