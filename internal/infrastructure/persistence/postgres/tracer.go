package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// slowQueryThreshold is the latency above which a statement is logged and
// counted.
const slowQueryThreshold = 200 * time.Millisecond

// slowQueryTracer is a pgx QueryTracer that surfaces statements slower than
// the threshold. It is attached to every pooled connection.
type slowQueryTracer struct {
	threshold time.Duration
	counter   metric.Int64Counter
}

func newSlowQueryTracer() *slowQueryTracer {
	counter, _ := otel.Meter("costwarden.postgres").Int64Counter("db.slow_queries",
		metric.WithDescription("Statements exceeding the slow-query threshold"))
	return &slowQueryTracer{threshold: slowQueryThreshold, counter: counter}
}

type queryStartKey struct{}

type queryStart struct {
	sql   string
	begin time.Time
}

func (t *slowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, begin: time.Now()})
}

func (t *slowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	elapsed := time.Since(start.begin)
	if elapsed < t.threshold {
		return
	}
	t.counter.Add(ctx, 1)
	slog.WarnContext(ctx, "slow query",
		"duration_ms", elapsed.Milliseconds(),
		"sql", truncateSQL(start.sql),
		"error", data.Err)
}

// truncateSQL keeps log lines bounded; statements are logged for
// identification, not replay.
func truncateSQL(sql string) string {
	const maxLen = 120
	if len(sql) > maxLen {
		return sql[:maxLen] + "..."
	}
	return sql
}
