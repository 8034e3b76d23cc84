package observability

import (
	"context"
	"errors"
	"testing"
)

func TestTracerStartsSpansWithoutError(t *testing.T) {
	tracer, shutdown, err := NewTracer(TraceConfig{ServiceName: "magi-test", ServiceVersion: "0.0.0"})
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.StartAgentTurn(context.Background(), "agent-1", "claude-sonnet")
	RecordError(span, nil)

	ctx, span = tracer.StartToolCall(ctx, "search_web", "call-1")
	RecordError(span, errors.New("boom"))

	_, span = tracer.StartOverseerTurn(ctx)
	RecordError(span, nil)
}
