package job

import (
	"context"
	"time"

	"quotekeeper/internal/health"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// DependencyChecker refreshes the health state of every registered
// dependency.
type DependencyChecker interface {
	CheckAll(ctx context.Context) []health.Result
}

// HealthPoller keeps the memoized health results warm so the health
// endpoint and the stats snapshot reflect recent probes even when no
// requests arrive.
type HealthPoller struct {
	tracer       trace.Tracer
	logger       zerolog.Logger
	checker      DependencyChecker
	pollInterval time.Duration
}

func NewHealthPoller(tracer trace.Tracer, logger zerolog.Logger, checker DependencyChecker, pollIntervalSecs int) *HealthPoller {
	return &HealthPoller{
		tracer:       tracer,
		logger:       logger,
		checker:      checker,
		pollInterval: time.Duration(pollIntervalSecs) * time.Second,
	}
}

// Start runs the polling loop. Blocks until ctx is cancelled.
func (p *HealthPoller) Start(ctx context.Context) {
	p.logger.Info().Dur("interval", p.pollInterval).Msg("health poller starting")

	p.runOnce(ctx)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("health poller stopped")
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *HealthPoller) runOnce(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "health-poller.run")
	defer span.End()

	results := p.checker.CheckAll(ctx)
	for _, r := range results {
		if r.Status != health.StatusHealthy {
			p.logger.Warn().
				Str("service", r.Service).
				Str("status", string(r.Status)).
				Int64("response_time_ms", r.ResponseTimeMs).
				Msg("dependency not healthy")
		}
	}
}
