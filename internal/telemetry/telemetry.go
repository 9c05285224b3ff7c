// Package telemetry wires an OpenTelemetry trace provider that records step
// durations to the debug log.
package telemetry

import (
	"context"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the trace provider for one process.
type Provider struct {
	provider *sdktrace.TracerProvider
}

// NewProvider creates a provider whose spans are logged on completion.
func NewProvider() *Provider {
	return &Provider{
		provider: sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(&logSpanProcessor{}),
		),
	}
}

// Tracer returns a tracer for the named component.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.provider.Tracer(name)
}

// Close flushes and shuts down the provider.
func (p *Provider) Close() {
	if p == nil {
		return
	}
	_ = p.provider.Shutdown(context.Background())
}

// logSpanProcessor records every finished span's duration at debug level.
type logSpanProcessor struct{}

func (*logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (*logSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	slog.Debug("span completed",
		"name", span.Name(),
		"duration", span.EndTime().Sub(span.StartTime()),
	)
}

func (*logSpanProcessor) Shutdown(context.Context) error   { return nil }
func (*logSpanProcessor) ForceFlush(context.Context) error { return nil }
