package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"quotekeeper/internal/health"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type stubChecker struct {
	calls   atomic.Int32
	results []health.Result
}

func (s *stubChecker) CheckAll(context.Context) []health.Result {
	s.calls.Add(1)
	return s.results
}

func TestNewHealthPollerInterval(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	poller := NewHealthPoller(tracer, zerolog.Nop(), &stubChecker{}, 2)
	if poller.pollInterval != 2*time.Second {
		t.Fatalf("expected 2s interval, got %v", poller.pollInterval)
	}
}

func TestHealthPollerStart(t *testing.T) {
	t.Parallel()

	tracer := trace.NewNoopTracerProvider().Tracer("test")
	stub := &stubChecker{}
	poller := NewHealthPoller(tracer, zerolog.Nop(), stub, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go poller.Start(ctx)

	eventually(t, func() bool { return stub.calls.Load() > 0 })
	cancel()
}

func TestRunOnceLogsUnhealthyDependencies(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	stub := &stubChecker{results: []health.Result{
		{Service: "redis", Status: health.StatusUnhealthy, Error: "connection refused"},
		{Service: "coingecko", Status: health.StatusHealthy},
	}}

	var lines atomic.Int32
	logger := zerolog.New(writerFunc(func(p []byte) (int, error) {
		lines.Add(1)
		return len(p), nil
	}))

	poller := NewHealthPoller(tracer, logger, stub, 1)
	poller.runOnce(context.Background())

	if lines.Load() != 1 {
		t.Fatalf("expected one warning line, got %d", lines.Load())
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
