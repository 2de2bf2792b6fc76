package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	base *slog.Logger
}

// NewSlogLogger wraps base. A nil base falls back to slog.Default().
func NewSlogLogger(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return SlogLogger{base: base}
}

func (l SlogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	l.base.DebugContext(ctx, msg, kv...)
}

func (l SlogLogger) Info(ctx context.Context, msg string, kv ...any) {
	l.base.InfoContext(ctx, msg, kv...)
}

func (l SlogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	l.base.WarnContext(ctx, msg, kv...)
}

func (l SlogLogger) Error(ctx context.Context, msg string, kv ...any) {
	l.base.ErrorContext(ctx, msg, kv...)
}

// otelSpan adapts a trace.Span to the Span interface.
type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s otelSpan) AddEvent(name string, kv ...any) {
	s.span.AddEvent(name, trace.WithAttributes(attrsFromKV(kv)...))
}

func (s otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// OtelTracer adapts a trace.Tracer to the Tracer interface.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer wraps an OpenTelemetry tracer.
func NewOtelTracer(tracer trace.Tracer) Tracer {
	return OtelTracer{tracer: tracer}
}

func (t OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, otelSpan{span: span}
}
