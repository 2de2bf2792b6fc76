// Package telemetry defines the logging, metrics, and tracing interfaces
// used throughout the broker. Components log through these interfaces
// rather than reaching for fmt.Println or the bare log package,
// so that a host process can wire real backends (otel, slog) without
// touching broker internals.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, context-aware log lines. Implementations may
	// attach request-scoped fields (workspace, task, session) found on ctx.
	Logger interface {
		Debug(ctx context.Context, msg string, kv ...any)
		Info(ctx context.Context, msg string, kv ...any)
		Warn(ctx context.Context, msg string, kv ...any)
		Error(ctx context.Context, msg string, kv ...any)
	}

	// Metrics records counters, timers, and gauges tagged with label pairs.
	Metrics interface {
		IncCounter(name string, value float64, labels ...string)
		RecordTimer(name string, d time.Duration, labels ...string)
		RecordGauge(name string, value float64, labels ...string)
	}

	// Tracer starts spans. The engines hand one to workflows through
	// WorkflowContext.Tracer; the dispatcher, typechecker, and transport
	// do not start spans.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is the subset of an OpenTelemetry span the broker needs.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, kv ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
