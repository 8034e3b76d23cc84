package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TraceConfig configures a Tracer.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
}

// Tracer wraps an OpenTelemetry tracer with span helpers for the request
// cycle in §4.E and the tool batch in §4.D.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer installs an OpenTelemetry SDK trace provider and returns a
// Tracer plus its shutdown function.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("observability: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(provider)

	return &Tracer{tracer: provider.Tracer(cfg.ServiceName)}, provider.Shutdown, nil
}

// StartAgentTurn starts a span around one agentrt request-cycle round,
// per §4.E.
func (t *Tracer) StartAgentTurn(ctx context.Context, agentID, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("model", model),
	))
}

// StartToolCall starts a span around one tool execution, per §4.D.
func (t *Tracer) StartToolCall(ctx context.Context, toolName, callID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("tool.call_id", callID),
	))
}

// StartOverseerTurn starts a span around one monologue turn, per §4.I.
func (t *Tracer) StartOverseerTurn(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "overseer.turn")
}

// RecordError marks span as errored and attaches err, then ends it.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
