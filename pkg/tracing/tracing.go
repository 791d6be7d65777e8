// Package tracing wires OpenTelemetry tracing, grounded on the call shape
// internal/app.Application.initializeTracing expects
// (tracing.InitTracer(ctx, Config, *zap.Logger) (func(context.Context) error, error)),
// the only surviving signature from the teacher for this package.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// Config controls whether tracing is enabled and how spans are sampled and
// exported.
type Config struct {
	Enabled      bool
	CollectorURL string
	Environment  string
	SampleRate   float64
}

// InitTracer installs a global TracerProvider exporting to an OTLP/gRPC
// collector. When Enabled is false it installs nothing (the global
// provider stays otel's default no-op one) and returns a shutdown func
// that does nothing, so callers never need to branch on whether tracing
// is active.
func InitTracer(ctx context.Context, cfg Config, log *zap.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(cfg.CollectorURL),
		otlptracegrpc.WithInsecure(),
	))
	if err != nil {
		return nil, fmt.Errorf("creating otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("capability-kernel"),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing initialized", zap.String("collector", cfg.CollectorURL), zap.Float64("sample_rate", cfg.SampleRate))

	return tp.Shutdown, nil
}

// Tracer returns the package-wide tracer for privileged kernel operations.
func Tracer() interface {
	Start(ctx context.Context, name string) (context.Context, func())
} {
	return tracerFacade{}
}

type tracerFacade struct{}

func (tracerFacade) Start(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := otel.Tracer("capability-kernel").Start(ctx, name)
	return ctx, func() { span.End() }
}
