package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := newBreaker("upstream", cfg, zerolog.Nop())
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func failingCall(calls *int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) {
		*calls++
		return 0, errors.New("boom")
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenTrials: 1})

	calls := 0
	for i := 0; i < 3; i++ {
		if _, err := Guard(context.Background(), b, failingCall(&calls)); err == nil {
			t.Fatal("expected failure")
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}

	// Next call is rejected without reaching the dependency.
	_, err := Guard(context.Background(), b, failingCall(&calls))
	var coe *CircuitOpenError
	if !errors.As(err, &coe) || coe.Name != "upstream" {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("open breaker must not invoke the call, got %d invocations", calls)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenTrials: 1})

	calls := 0
	_, _ = Guard(context.Background(), b, failingCall(&calls))
	_, _ = Guard(context.Background(), b, failingCall(&calls))
	if b.Failures() != 2 {
		t.Fatalf("expected 2 failures, got %d", b.Failures())
	}

	if _, err := Guard(context.Background(), b, func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Failures() != 0 {
		t.Fatalf("success should reset the counter, got %d", b.Failures())
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	t.Parallel()

	b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenTrials: 1})

	calls := 0
	_, _ = Guard(context.Background(), b, failingCall(&calls))
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	*now = now.Add(61 * time.Second)

	got, err := Guard(context.Background(), b, func(context.Context) (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Fatalf("trial call should pass through, got %d, %v", got, err)
	}
	if b.State() != StateClosed || b.Failures() != 0 {
		t.Fatalf("expected closed with zero failures, got %s/%d", b.State(), b.Failures())
	}
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	t.Parallel()

	b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenTrials: 1})

	calls := 0
	_, _ = Guard(context.Background(), b, failingCall(&calls))
	*now = now.Add(2 * time.Minute)

	_, _ = Guard(context.Background(), b, failingCall(&calls))
	if b.State() != StateOpen {
		t.Fatalf("expected reopen after trial failure, got %s", b.State())
	}
	if calls != 2 {
		t.Fatalf("expected exactly one trial invocation, got %d total", calls)
	}

	// Cooldown restarts from the trial failure.
	if err := b.Allow(); err == nil {
		t.Fatal("expected rejection during restarted cooldown")
	}
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	t.Parallel()

	b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenTrials: 1})

	calls := 0
	_, _ = Guard(context.Background(), b, failingCall(&calls))
	*now = now.Add(2 * time.Minute)

	if err := b.Allow(); err != nil {
		t.Fatalf("first caller should be admitted as trial: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatal("second caller must be rejected during the trial window")
	}
}

func TestBreakerConcurrentHalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	t.Parallel()

	// Many callers racing the OPEN->HALF_OPEN transition must never admit
	// more than one trial, including callers that lose the transition and
	// re-evaluate under HALF_OPEN mid-reset.
	for episode := 0; episode < 200; episode++ {
		b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenTrials: 1})
		b.OnFailure()
		*now = now.Add(2 * time.Minute)

		var admitted atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if b.Allow() == nil {
					admitted.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if n := admitted.Load(); n != 1 {
			t.Fatalf("episode %d admitted %d simultaneous trials, want exactly 1", episode, n)
		}
	}
}

func TestBreakerConcurrentHalfOpenRespectsTrialBudget(t *testing.T) {
	t.Parallel()

	for episode := 0; episode < 200; episode++ {
		b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenTrials: 2})
		b.OnFailure()
		*now = now.Add(2 * time.Minute)

		var admitted atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if b.Allow() == nil {
					admitted.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		n := admitted.Load()
		if n < 1 || n > 2 {
			t.Fatalf("episode %d admitted %d trials, want between 1 and 2", episode, n)
		}
	}
}

func TestBreakerConcurrentOpenRejections(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour, HalfOpenTrials: 1})
	calls := 0
	_, _ = Guard(context.Background(), b, failingCall(&calls))

	var wg sync.WaitGroup
	rejected := make([]bool, 16)
	for i := range rejected {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := Guard(context.Background(), b, failingCall(new(int)))
			var coe *CircuitOpenError
			rejected[i] = errors.As(err, &coe)
		}(i)
	}
	wg.Wait()

	for i, r := range rejected {
		if !r {
			t.Fatalf("caller %d was not rejected", i)
		}
	}
	if calls != 1 {
		t.Fatalf("dependency reached %d times while open", calls)
	}
}

func TestRegistryLazyCreationAndSnapshot(t *testing.T) {
	t.Parallel()

	r := NewRegistry(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenTrials: 1}, zerolog.Nop())

	a := r.Get("coingecko")
	if a.State() != StateClosed || a.Failures() != 0 {
		t.Fatalf("new breaker should start closed with zero failures")
	}
	if r.Get("coingecko") != a {
		t.Fatal("expected same breaker instance per name")
	}

	r.Get("binance").OnFailure()

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(snap))
	}
	if snap[0].Name != "binance" || snap[0].Failures != 1 {
		t.Fatalf("unexpected snapshot order/content: %+v", snap)
	}
	if snap[1].Name != "coingecko" || snap[1].State != "closed" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRegistryReset(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultBreakerConfig, zerolog.Nop())
	r.Get("coingecko")
	r.Get("binance")
	r.Reset()

	if snap := r.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected empty registry after reset, got %+v", snap)
	}
}

func TestRegistryDefaultsApplied(t *testing.T) {
	t.Parallel()

	r := NewRegistry(BreakerConfig{}, zerolog.Nop())
	b := r.Get("x")
	if b.cfg.FailureThreshold != 5 || b.cfg.ResetTimeout != 60*time.Second || b.cfg.HalfOpenTrials != 1 {
		t.Fatalf("defaults not applied: %+v", b.cfg)
	}
}
