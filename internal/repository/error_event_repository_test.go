package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"quotekeeper/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

type fakePool struct {
	execSQL  []string
	execArgs [][]any
	execErr  error
	execTag  pgconn.CommandTag
}

func (f *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	return f.execTag, f.execErr
}

func (f *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestRunMigrationsCreatesTable(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	repo := NewErrorEventRepository(pool, testTracer)

	if err := repo.RunMigrations(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pool.execSQL) != 1 || !strings.Contains(pool.execSQL[0], "CREATE TABLE IF NOT EXISTS error_events") {
		t.Fatalf("unexpected migration SQL: %v", pool.execSQL)
	}
}

func TestRecordPersistsContextWithRetention(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	repo := NewErrorEventRepository(pool, testTracer)

	ec := domain.NewErrorContext("fetch-quote", "orchestrator", "BTC").WithMeta("providers", "3")
	if err := repo.Record(context.Background(), ec, "all sources failed", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pool.execArgs) != 1 {
		t.Fatalf("expected one insert, got %d", len(pool.execArgs))
	}
	args := pool.execArgs[0]
	if args[0] != "fetch-quote" || args[1] != "orchestrator" || args[2] != "BTC" || args[3] != "all sources failed" {
		t.Fatalf("unexpected insert args: %v", args)
	}
	occurred := args[5].(time.Time)
	expires := args[6].(time.Time)
	if expires.Sub(occurred) != time.Hour {
		t.Fatalf("expected 1h retention, got %s", expires.Sub(occurred))
	}
	if !strings.Contains(string(args[4].([]byte)), `"providers":"3"`) {
		t.Fatalf("metadata not serialized: %s", args[4])
	}
}

func TestRecordPropagatesExecError(t *testing.T) {
	t.Parallel()

	pool := &fakePool{execErr: errors.New("connection lost")}
	repo := NewErrorEventRepository(pool, testTracer)

	err := repo.Record(context.Background(), domain.NewErrorContext("fetch-quote", "orchestrator", "BTC"), "boom", time.Hour)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestPurgeReportsDeletedRows(t *testing.T) {
	t.Parallel()

	pool := &fakePool{execTag: pgconn.NewCommandTag("DELETE 3")}
	repo := NewErrorEventRepository(pool, testTracer)

	n, err := repo.Purge(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	if !strings.Contains(pool.execSQL[0], "DELETE FROM error_events") {
		t.Fatalf("unexpected SQL: %v", pool.execSQL)
	}
}
