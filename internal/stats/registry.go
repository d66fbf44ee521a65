package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"quotekeeper/internal/health"
	"quotekeeper/internal/resilience"
)

// Snapshot is a read-only projection of the live error state, rebuilt on
// every call.
type Snapshot struct {
	ErrorCounts     map[string]int64             `json:"error_counts"`
	CircuitBreakers []resilience.BreakerSnapshot `json:"circuit_breakers"`
	HealthChecks    []health.Result              `json:"health_checks"`
	LastHealthCheck time.Time                    `json:"last_health_check"`
}

// Registry counts terminal failures per operation and projects the
// breaker and health state for the observability surface.
type Registry struct {
	counts   sync.Map // operation -> *atomic.Int64
	breakers *resilience.Registry
	checker  *health.Checker
}

func NewRegistry(breakers *resilience.Registry, checker *health.Checker) *Registry {
	return &Registry{breakers: breakers, checker: checker}
}

// RecordError increments the counter for operation. Safe for concurrent use.
func (r *Registry) RecordError(operation string) {
	if v, ok := r.counts.Load(operation); ok {
		v.(*atomic.Int64).Add(1)
		return
	}
	counter := &atomic.Int64{}
	if v, loaded := r.counts.LoadOrStore(operation, counter); loaded {
		counter = v.(*atomic.Int64)
	}
	counter.Add(1)
}

// Snapshot composes current counters, breaker states and the latest health
// results. It mutates nothing and is safe to call concurrently with writers.
func (r *Registry) Snapshot() Snapshot {
	counts := make(map[string]int64)
	r.counts.Range(func(k, v any) bool {
		counts[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})

	snap := Snapshot{
		ErrorCounts:     counts,
		CircuitBreakers: []resilience.BreakerSnapshot{},
		HealthChecks:    []health.Result{},
	}
	if r.breakers != nil {
		if b := r.breakers.Snapshot(); b != nil {
			snap.CircuitBreakers = b
		}
	}
	if r.checker != nil {
		if h := r.checker.Snapshot(); h != nil {
			snap.HealthChecks = h
		}
		snap.LastHealthCheck = r.checker.LastRun()
	}
	return snap
}

// Reset clears the operation counters and drops every circuit breaker
// entry. Subsequent snapshots report empty collections.
func (r *Registry) Reset() {
	r.counts.Range(func(k, _ any) bool {
		r.counts.Delete(k)
		return true
	})
	if r.breakers != nil {
		r.breakers.Reset()
	}
}

// Shutdown releases the accumulated error state; equivalent to Reset.
func (r *Registry) Shutdown() {
	r.Reset()
}
