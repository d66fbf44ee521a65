package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int32

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int32
	ResetTimeout     time.Duration
	HalfOpenTrials   int32
}

var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	ResetTimeout:     60 * time.Second,
	HalfOpenTrials:   1,
}

// CircuitOpenError is returned when a call is rejected without reaching
// the dependency. Callers distinguish it from ordinary call failures.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s", e.Name)
}

// Breaker guards calls to one named dependency. All transitions are
// compare-and-swap; no lock is held for the duration of a guarded call.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	logger zerolog.Logger

	state    atomic.Int32
	failures atomic.Int32
	openedAt atomic.Int64 // unix nanos

	// trials counts half-open admissions. Saturated to HalfOpenTrials
	// while OPEN so a reader racing the OPEN->HALF_OPEN transition can
	// only over-reject; the transition winner alone resets it.
	trials atomic.Int32

	now func() time.Time
}

func newBreaker(name string, cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	return &Breaker{name: name, cfg: cfg, logger: logger, now: time.Now}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() BreakerState {
	return BreakerState(b.state.Load())
}

func (b *Breaker) Failures() int32 {
	return b.failures.Load()
}

// Allow reports whether a call may proceed. In OPEN it rejects until the
// reset timeout has elapsed, then admits the transition winner as the
// half-open trial. In HALF_OPEN at most cfg.HalfOpenTrials calls are
// admitted at once.
func (b *Breaker) Allow() error {
	for {
		switch BreakerState(b.state.Load()) {
		case StateClosed:
			return nil

		case StateOpen:
			opened := time.Unix(0, b.openedAt.Load())
			if b.now().Sub(opened) < b.cfg.ResetTimeout {
				return &CircuitOpenError{Name: b.name}
			}
			if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
				// Only the winner touches the counter: it claims the
				// first trial slot in one store.
				b.trials.Store(1)
				b.logger.Info().Str("dependency", b.name).Msg("circuit half-open, admitting trial")
				return nil
			}
			// Lost the transition race; re-evaluate.

		case StateHalfOpen:
			for {
				t := b.trials.Load()
				if t >= b.cfg.HalfOpenTrials {
					return &CircuitOpenError{Name: b.name}
				}
				if b.trials.CompareAndSwap(t, t+1) {
					return nil
				}
			}
		}
	}
}

// OnSuccess records a successful guarded call.
func (b *Breaker) OnSuccess() {
	switch BreakerState(b.state.Load()) {
	case StateHalfOpen:
		if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
			b.failures.Store(0)
			b.logger.Info().Str("dependency", b.name).Msg("circuit closed after trial success")
		}
	case StateClosed:
		b.failures.Store(0)
	}
}

// OnFailure records a failed guarded call.
func (b *Breaker) OnFailure() {
	switch BreakerState(b.state.Load()) {
	case StateHalfOpen:
		b.trials.Store(b.cfg.HalfOpenTrials)
		b.openedAt.Store(b.now().UnixNano())
		if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen)) {
			b.logger.Warn().Str("dependency", b.name).Msg("circuit reopened after trial failure")
		}
	case StateClosed:
		if b.failures.Add(1) >= b.cfg.FailureThreshold {
			b.trials.Store(b.cfg.HalfOpenTrials)
			b.openedAt.Store(b.now().UnixNano())
			if b.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
				b.logger.Warn().
					Str("dependency", b.name).
					Int32("failures", b.failures.Load()).
					Msg("circuit opened")
			}
		}
	}
}

// Guard runs op under b: rejected immediately when the circuit is open,
// otherwise the outcome is fed back into the state machine.
func Guard[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := op(ctx)
	if err != nil {
		b.OnFailure()
		return zero, err
	}
	b.OnSuccess()
	return result, nil
}

// BreakerSnapshot is a read-only view of one breaker.
type BreakerSnapshot struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int32  `json:"failure_count"`
}

// Registry holds one breaker per dependency name, created lazily as
// CLOSED on first use.
type Registry struct {
	cfg      BreakerConfig
	logger   zerolog.Logger
	breakers sync.Map // name -> *Breaker
}

func NewRegistry(cfg BreakerConfig, logger zerolog.Logger) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig.ResetTimeout
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = DefaultBreakerConfig.HalfOpenTrials
	}
	return &Registry{cfg: cfg, logger: logger}
}

func (r *Registry) Get(name string) *Breaker {
	if b, ok := r.breakers.Load(name); ok {
		return b.(*Breaker)
	}
	b, _ := r.breakers.LoadOrStore(name, newBreaker(name, r.cfg, r.logger))
	return b.(*Breaker)
}

// Snapshot returns the current state of every breaker, sorted by name.
func (r *Registry) Snapshot() []BreakerSnapshot {
	var out []BreakerSnapshot
	r.breakers.Range(func(_, v any) bool {
		b := v.(*Breaker)
		out = append(out, BreakerSnapshot{
			Name:     b.Name(),
			State:    b.State().String(),
			Failures: b.Failures(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset drops every breaker entry.
func (r *Registry) Reset() {
	r.breakers.Range(func(k, _ any) bool {
		r.breakers.Delete(k)
		return true
	})
}
