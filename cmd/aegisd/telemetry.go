package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// telemetry wraps the tracer/meter the decider instruments every decision
// with. No exporter is configured here — a real deployment's collector
// endpoint is an external collaborator spec.md §1 places out of scope —
// so these default to the global no-op providers unless a caller of this
// process has separately installed an SDK provider via the OpenTelemetry
// environment variables, in which case spans and counts flow there for
// free with no code in this repo needing to know about it.
type telemetry struct {
	tracer          trace.Tracer
	decisionCounter metric.Int64Counter
}

func newTelemetry() (*telemetry, error) {
	counter, err := otel.Meter("github.com/aegis-proxy/aegis/cmd/aegisd").
		Int64Counter("aegis.pdp.decisions",
			metric.WithDescription("Hybrid PDP decisions, counted by final (boundary-normalized) verdict"))
	if err != nil {
		return nil, err
	}
	return &telemetry{
		tracer:          otel.Tracer("github.com/aegis-proxy/aegis/cmd/aegisd"),
		decisionCounter: counter,
	}, nil
}

// startDecisionSpan opens a span around one PDP evaluation, tagged with
// the request's agent identity so a trace backend can correlate a slow
// decision with the agent that triggered it.
func (t *telemetry) startDecisionSpan(ctx context.Context, agentID, action string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "aegis.pdp.decide",
		trace.WithAttributes(
			attribute.String("aegis.agent_id", agentID),
			attribute.String("aegis.action", action),
		),
	)
}

// recordDecision tags the span with the final verdict and increments the
// decision counter, returning the span's trace ID for the audit entry's
// metadata (when recording is enabled; otherwise an empty string).
func recordDecision(span trace.Span, counter metric.Int64Counter, ctx context.Context, verdict string) string {
	span.SetAttributes(attribute.String("aegis.verdict", verdict))
	if counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
