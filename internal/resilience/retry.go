package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"quotekeeper/internal/domain"

	"github.com/rs/zerolog"
)

// RetryConfig bounds a retried operation.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryConfig matches the service-wide defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:  3,
	BaseDelay:    1 * time.Second,
	MaxDelay:     30 * time.Second,
	JitterFactor: 0.2,
}

// FailureRecorder receives the operation name of every terminal failure.
type FailureRecorder interface {
	RecordError(operation string)
}

// Executor runs operations with bounded retries and exponential backoff.
// Fatal errors abort immediately; transient ones are retried until the
// attempt budget runs out, at which point the last error is returned
// unchanged and the failure is recorded.
type Executor struct {
	logger zerolog.Logger
	stats  FailureRecorder

	// Seams for tests.
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

func NewExecutor(logger zerolog.Logger, stats FailureRecorder) *Executor {
	return &Executor{
		logger: logger,
		stats:  stats,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		randFloat: rand.Float64,
	}
}

// Retry executes op up to cfg.MaxAttempts times. The backoff before
// attempt k+1 is min(BaseDelay*2^(k-1), MaxDelay) plus random jitter in
// [0, JitterFactor*delay). Nothing is held while sleeping.
func Retry[T any](ctx context.Context, e *Executor, cfg RetryConfig, ec domain.ErrorContext, op func(context.Context) (T, error)) (T, error) {
	var zero T
	cfg = normalize(cfg)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.Info().
					Str("operation", ec.Operation).
					Str("source", ec.Source).
					Str("symbol", ec.Symbol).
					Int("attempt", attempt).
					Msg("operation recovered after retry")
			}
			return result, nil
		}
		lastErr = err

		if domain.IsFatal(err) {
			e.recordFailure(ec, attempt, err, "fatal error, not retrying")
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if err := e.sleep(ctx, e.backoff(cfg, attempt)); err != nil {
			e.recordFailure(ec, attempt, lastErr, "retry cancelled")
			return zero, err
		}
	}

	e.recordFailure(ec, cfg.MaxAttempts, lastErr, "retries exhausted")
	return zero, lastErr
}

func (e *Executor) backoff(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterFactor > 0 {
		delay += e.randFloat() * cfg.JitterFactor * delay
	}
	return time.Duration(delay)
}

func (e *Executor) recordFailure(ec domain.ErrorContext, attempts int, err error, msg string) {
	if e.stats != nil {
		e.stats.RecordError(ec.Operation)
	}
	evt := e.logger.Error().
		Str("operation", ec.Operation).
		Str("source", ec.Source).
		Str("symbol", ec.Symbol).
		Time("started_at", ec.Timestamp).
		Int("attempts", attempts).
		Err(err)
	for k, v := range ec.Metadata {
		evt = evt.Str(k, v)
	}
	evt.Msg(msg)
}

func normalize(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}
	return cfg
}
