package obs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementAttr = 300

type pgxQueryKey struct{}

type pgxQuery struct {
	span  trace.Span
	name  string
	start time.Time
}

// PGXTracer implements pgx.QueryTracer. Spans and the query histogram are
// labelled with the sqlc query name when the statement carries one.
type PGXTracer struct{}

// TraceQueryStart opens a span for the statement.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	name := QueryName(data.SQL)
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "db "+name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", name),
		attribute.String("db.statement", truncateSQL(data.SQL)),
	)
	return context.WithValue(ctx, pgxQueryKey{}, pgxQuery{span: span, name: name, start: time.Now()})
}

// TraceQueryEnd closes the span and records latency.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	q, ok := ctx.Value(pgxQueryKey{}).(pgxQuery)
	if !ok {
		return
	}
	result := "ok"
	if data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows) {
		result = "error"
		q.span.RecordError(data.Err)
		q.span.SetStatus(codes.Error, data.Err.Error())
	}
	q.span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	q.span.End()
	if DBQueryDuration != nil {
		DBQueryDuration.WithLabelValues(q.name, result).Observe(DurationMillis(time.Since(q.start)))
	}
}

// QueryName extracts the sqlc "-- name: X :kind" annotation, falling back to
// the leading SQL keyword for hand-written statements.
func QueryName(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if rest, ok := strings.CutPrefix(trimmed, "-- name:"); ok {
		if fields := strings.Fields(rest); len(fields) > 0 {
			return fields[0]
		}
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToUpper(fields[0])
}

func truncateSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) > maxStatementAttr {
		return trimmed[:maxStatementAttr] + "..."
	}
	return trimmed
}
