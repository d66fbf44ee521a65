package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Result is one memoized probe outcome.
type Result struct {
	Service        string    `json:"service"`
	Status         Status    `json:"status"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Error          string    `json:"error,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Probe checks one dependency. A returned error marks it unhealthy.
type Probe func(ctx context.Context) error

// Target registers a named dependency with its probe.
type Target struct {
	Name  string
	Probe Probe
}

type cached struct {
	result  Result
	expires time.Time
}

// Checker probes a fixed set of dependencies on demand, memoizing each
// result for a TTL so bursts of health requests do not hammer upstreams.
type Checker struct {
	ttl       time.Duration
	degraded  time.Duration
	logger    zerolog.Logger
	targets   []Target
	results   sync.Map // name -> cached
	lastRunMu sync.Mutex
	lastRun   time.Time

	now func() time.Time
}

func NewChecker(ttl, degradedThreshold time.Duration, logger zerolog.Logger, targets ...Target) *Checker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if degradedThreshold <= 0 {
		degradedThreshold = 250 * time.Millisecond
	}
	return &Checker{
		ttl:      ttl,
		degraded: degradedThreshold,
		logger:   logger,
		targets:  targets,
		now:      time.Now,
	}
}

// Check returns the memoized result for service, probing only when the
// cached entry has expired or force is set.
func (c *Checker) Check(ctx context.Context, service string, force bool) (Result, error) {
	var target *Target
	for i := range c.targets {
		if c.targets[i].Name == service {
			target = &c.targets[i]
			break
		}
	}
	if target == nil {
		return Result{}, fmt.Errorf("unknown service %q", service)
	}

	if !force {
		if v, ok := c.results.Load(service); ok {
			entry := v.(cached)
			if c.now().Before(entry.expires) {
				return entry.result, nil
			}
		}
	}

	result := c.probe(ctx, *target)
	c.results.Store(service, cached{result: result, expires: c.now().Add(c.ttl)})
	return result, nil
}

// CheckAll probes every registered service, each independently; one
// unhealthy dependency never fails the call. Results are sorted by name.
func (c *Checker) CheckAll(ctx context.Context) []Result {
	results := make([]Result, len(c.targets))
	var wg sync.WaitGroup
	for i, target := range c.targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			res, err := c.Check(ctx, target.Name, false)
			if err != nil {
				// Cannot happen for registered targets; keep the slot filled.
				res = Result{Service: target.Name, Status: StatusUnhealthy, Error: err.Error(), CheckedAt: c.now()}
			}
			results[i] = res
		}(i, target)
	}
	wg.Wait()

	c.lastRunMu.Lock()
	c.lastRun = c.now()
	c.lastRunMu.Unlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Service < results[j].Service })
	return results
}

// Snapshot returns the memoized results without probing anything,
// sorted by service name. Services never probed are absent.
func (c *Checker) Snapshot() []Result {
	var out []Result
	c.results.Range(func(_, v any) bool {
		out = append(out, v.(cached).result)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// LastRun reports when CheckAll last completed.
func (c *Checker) LastRun() time.Time {
	c.lastRunMu.Lock()
	defer c.lastRunMu.Unlock()
	return c.lastRun
}

func (c *Checker) probe(ctx context.Context, target Target) Result {
	start := time.Now()
	err := target.Probe(ctx)
	elapsed := time.Since(start)

	result := Result{
		Service:        target.Name,
		ResponseTimeMs: elapsed.Milliseconds(),
		CheckedAt:      c.now(),
	}
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		c.logger.Warn().Str("service", target.Name).Err(err).Msg("health probe failed")
	case elapsed > c.degraded:
		result.Status = StatusDegraded
		c.logger.Warn().
			Str("service", target.Name).
			Int64("response_time_ms", result.ResponseTimeMs).
			Msg("health probe slow")
	default:
		result.Status = StatusHealthy
	}
	return result
}
