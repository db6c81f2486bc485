// Package observability exports consensus and agent telemetry over OTLP.
//
// A disabled Provider is valid: spans go to the global (no-op) tracer and
// instruments are nil, so every Record call is dropped.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/flowpay-labs/paystream"

// Config selects the collector and sampling.
type Config struct {
	ServiceName  string
	Version      string
	OTLPEndpoint string  // host:port of an OTLP/gRPC collector
	SampleRate   float64 // fraction of traces kept
	Enabled      bool
	Insecure     bool
}

// DefaultConfig points at a local collector with telemetry switched off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:  "paystream",
		Version:      "0.1.0",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
		Insecure:     true,
	}
}

// Provider owns the exporters and the paystream instruments.
type Provider struct {
	enabled bool
	tracer  trace.Tracer
	inst    instruments
	logger  *slog.Logger

	shutdown []func(context.Context) error
}

type instruments struct {
	decisions metric.Int64Counter
	payments  metric.Int64Counter
	spent     metric.Int64Counter
	latency   metric.Float64Histogram
}

// Disabled returns a provider that records nothing.
func Disabled() *Provider {
	return &Provider{
		tracer: otel.Tracer(scope),
		logger: slog.Default().With("component", "observability"),
	}
}

// New starts OTLP trace and metric export. With cfg nil or not Enabled it
// returns Disabled().
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil || !cfg.Enabled {
		return Disabled(), nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("observability resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metrics, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p, err := newProvider(tp.Tracer(scope), mp.Meter(scope, metric.WithInstrumentationVersion(cfg.Version)))
	if err != nil {
		return nil, err
	}
	p.enabled = true
	p.shutdown = []func(context.Context) error{tp.Shutdown, mp.Shutdown}
	p.logger.InfoContext(ctx, "exporting telemetry", "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.SampleRate)
	return p, nil
}

func newProvider(tracer trace.Tracer, meter metric.Meter) (*Provider, error) {
	p := Disabled()
	p.tracer = tracer

	var err error
	if p.inst.decisions, err = meter.Int64Counter("paystream.consensus.decisions",
		metric.WithDescription("Consensus outcomes by final action"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, err
	}
	if p.inst.payments, err = meter.Int64Counter("paystream.agent.payments",
		metric.WithDescription("Synthetic payments by x402 mode"),
		metric.WithUnit("{payment}"),
	); err != nil {
		return nil, err
	}
	if p.inst.spent, err = meter.Int64Counter("paystream.agent.spent",
		metric.WithDescription("Micro-units committed to providers"),
		metric.WithUnit("{micro}"),
	); err != nil {
		return nil, err
	}
	if p.inst.latency, err = meter.Float64Histogram("paystream.operation.latency",
		metric.WithDescription("Consensus rounds and agent fetches"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 2.5, 10, 30),
	); err != nil {
		return nil, err
	}
	return p, nil
}

// Enabled reports whether telemetry is exported.
func (p *Provider) Enabled() bool { return p != nil && p.enabled }

// Shutdown flushes pending spans and metrics. Errors are logged.
func (p *Provider) Shutdown(ctx context.Context) error {
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			p.logger.ErrorContext(ctx, "telemetry shutdown", "error", err)
		}
	}
	return nil
}

// RecordDecision counts a consensus outcome.
func (p *Provider) RecordDecision(ctx context.Context, finalAction string) {
	if p.inst.decisions != nil {
		p.inst.decisions.Add(ctx, 1, metric.WithAttributes(AttrFinalAction.String(finalAction)))
	}
}

// RecordPayment counts a synthetic payment and the micro-units it commits.
func (p *Provider) RecordPayment(ctx context.Context, mode string, micro uint64) {
	if p.inst.payments == nil {
		return
	}
	attrs := metric.WithAttributes(AttrPaymentMode.String(mode))
	p.inst.payments.Add(ctx, 1, attrs)
	p.inst.spent.Add(ctx, int64(micro), attrs)
}

// TrackOperation opens a span for name. The returned func ends it, records
// the latency and marks the span failed when err is non-nil; call it once.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if p.inst.latency != nil {
			p.inst.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
				AttrOperation.String(name),
				attribute.String("outcome", outcome),
			))
		}
		span.End()
	}
}
