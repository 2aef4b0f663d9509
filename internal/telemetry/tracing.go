// Package telemetry provides the OpenTelemetry tracer used by the
// orchestration router: one span per agent turn, one child span per tool
// execution. Exporting is opt-in — with no OTLP endpoint configured,
// Tracer.StartTurn and Tracer.StartTool still return valid, cheap no-op spans.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config selects whether and where spans are exported.
type Config struct {
	// ServiceName identifies this process in exported spans.
	ServiceName string
	// OTLPEndpoint is the collector address (e.g. "localhost:4317"). Empty
	// disables export; StartTurn and StartTool still return usable no-op spans.
	OTLPEndpoint string
	// Insecure disables TLS for the OTLP/gRPC connection (dev only).
	Insecure bool
}

// Tracer wraps an otel Tracer with the two span shapes the orchestration
// router needs: one per agent turn, one per tool call.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New builds a Tracer per cfg. The returned shutdown func must be called
// on process exit; it is a no-op when no endpoint was configured.
func New(cfg Config) (*Tracer, func(context.Context) error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "smartassist"
	}
	if cfg.OTLPEndpoint == "" {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, func(context.Context) error { return nil }
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, func(context.Context) error { return nil }
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}, provider.Shutdown
}

// StartTurn opens the span covering one agent turn: a channel message in,
// zero or more tool round trips, and the assembled reply out.
func (t *Tracer) StartTurn(ctx context.Context, sessionKey, agentID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "agent.turn", trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String("session.key", sessionKey),
		attribute.String("agent.id", agentID),
	))
}

// StartTool opens a child span for one tool execution within a turn. The
// caller's ctx must carry the turn span for correct parenting.
func (t *Tracer) StartTool(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("tool.%s", toolName), trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(
		attribute.String("tool.name", toolName),
	))
}

// End closes span, recording err on it first if non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
