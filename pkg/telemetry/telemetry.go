// Package telemetry wraps ContextManager's write paths in spans and RED
// counters. Grounded in the teacher's pkg/observability/observability.go
// Provider shape, narrowed from its OTLP-gRPC exporters to a stdout exporter
// only: the core must never perform network telemetry egress, so tracing and
// metrics are local-only here (spec.md carries no OTLP endpoint
// configuration at all).
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider manages the tracer and meter used by pkg/memory's ContextManager.
// The Provider returned by NoOp is always safe to call — telemetry is never
// required for correctness. Methods must not be called on a nil *Provider.
type Provider struct {
	logger *slog.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	auditChainLength metric.Int64UpDownCounter
	truncatedEntries metric.Int64Counter
	driftWarnings    metric.Int64Counter
}

// New builds a Provider that exports spans and metrics to w (typically
// os.Stdout, or io.Discard in tests) rather than any network collector.
func New(w io.Writer, serviceName string) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry: build trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
	)

	p := &Provider{
		logger:         slog.Default().With("component", "telemetry"),
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tp.Tracer("vaultmind.core"),
		meter:          mp.Meter("vaultmind.core"),
	}

	if err := p.initCounters(); err != nil {
		return nil, err
	}
	return p, nil
}

// NoOp returns a Provider whose spans and counters do nothing, for callers
// that did not configure telemetry.
func NoOp() *Provider {
	return &Provider{
		logger: slog.Default().With("component", "telemetry"),
		tracer: otel.Tracer("vaultmind.core"),
		meter:  otel.Meter("vaultmind.core"),
	}
}

func (p *Provider) initCounters() error {
	var err error
	p.auditChainLength, err = p.meter.Int64UpDownCounter("vaultmind.audit.chain_length",
		metric.WithDescription("Number of records in the audit hash chain"))
	if err != nil {
		return fmt.Errorf("telemetry: audit chain counter: %w", err)
	}
	p.truncatedEntries, err = p.meter.Int64Counter("vaultmind.sanitizer.truncated_entries",
		metric.WithDescription("Observation entries truncated by the sanitizer"))
	if err != nil {
		return fmt.Errorf("telemetry: truncated entries counter: %w", err)
	}
	p.driftWarnings, err = p.meter.Int64Counter("vaultmind.anchor.drift_warnings",
		metric.WithDescription("Intent-drift warnings raised against the task anchor"))
	if err != nil {
		return fmt.Errorf("telemetry: drift warnings counter: %w", err)
	}
	return nil
}

// StartSpan starts a span for one ContextManager operation (pkg/memory uses
// Observe, Reflect, CheckDrift and RunState.Complete).
func (p *Provider) StartSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, operation, trace.WithSpanKind(trace.SpanKindInternal))
}

// RecordAuditChainLength adds delta to the audit chain length counter.
func (p *Provider) RecordAuditChainLength(ctx context.Context, delta int64) {
	if p.auditChainLength != nil {
		p.auditChainLength.Add(ctx, delta)
	}
}

// RecordTruncation increments the truncated-entries counter.
func (p *Provider) RecordTruncation(ctx context.Context) {
	if p.truncatedEntries != nil {
		p.truncatedEntries.Add(ctx, 1)
	}
}

// RecordDriftWarning increments the drift-warnings counter and logs the
// overlap score, matching the teacher's slog-on-degraded-path idiom.
func (p *Provider) RecordDriftWarning(ctx context.Context, overlap, threshold float64) {
	if p.driftWarnings != nil {
		p.driftWarnings.Add(ctx, 1, metric.WithAttributes(
			attribute.Float64("overlap", overlap),
			attribute.Float64("threshold", threshold),
		))
	}
	p.logger.WarnContext(ctx, "intent drift detected", "overlap", overlap, "threshold", threshold)
}

// RecordReflectorSkip logs the Reflector safety guard firing. This is a log
// line only, never a file write — the invariant it protects is that
// observing the skip must not itself mutate anything.
func (p *Provider) RecordReflectorSkip(ctx context.Context, reason string) {
	p.logger.WarnContext(ctx, "reflector safety guard skipped merge", "reason", reason)
}

// Shutdown flushes and stops the trace/metric providers. Safe to call on a
// NoOp provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shutdown tracer provider: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shutdown meter provider: %w", err)
		}
	}
	return nil
}
