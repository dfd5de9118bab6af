// Package tracing bootstraps the process-wide OpenTelemetry TracerProvider
// for the mallard daemon. Exchanges flow through many short-lived exporters
// over the life of a process (stdout during development, an OTLP collector
// in production), so exporter construction is driven by a small registry
// instead of an inline type switch, letting Bootstrap stay a single,
// testable construction path regardless of how many exporter kinds get
// added later.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const TracerName = "github.com/allaspectsdev/mallard"

// Config bundles everything Bootstrap needs to stand up a TracerProvider.
type Config struct {
	ServiceName string
	Version     string
	Exporter    string
	Endpoint    string
	SampleRate  float64
	Insecure    bool
}

// exporterFactory builds a sdktrace.SpanExporter for one exporter kind.
type exporterFactory func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error)

// exporterRegistry maps a config exporter name to the factory that builds
// it. "none" is handled by Bootstrap directly and never reaches this map.
var exporterRegistry = map[string]exporterFactory{
	"stdout": func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	},
	"otlp-grpc": func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	},
	"otlp-http": func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	},
}

// RegisteredExporters lists the exporter names Bootstrap accepts besides
// "none". Bootstrap lists them in its unknown-exporter error.
func RegisteredExporters() []string {
	names := make([]string, 0, len(exporterRegistry)+1)
	names = append(names, "none")
	for name := range exporterRegistry {
		names = append(names, name)
	}
	return names
}

// Bootstrap creates and registers a global TracerProvider from cfg. It
// returns a shutdown function the caller should defer. cfg.Exporter == ""
// or "none" disables tracing: Bootstrap still returns a working no-op
// shutdown so callers never need an enabled/disabled branch of their own.
func Bootstrap(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.Exporter == "" || cfg.Exporter == "none" {
		return func(context.Context) error { return nil }, nil
	}

	factory, ok := exporterRegistry[cfg.Exporter]
	if !ok {
		return nil, fmt.Errorf("tracing: unknown exporter %q (supported: %v)", cfg.Exporter, RegisteredExporters())
	}

	exp, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: creating %s exporter: %w", cfg.Exporter, err)
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// samplerFor collapses the trivial sample rates to their dedicated
// always/never samplers rather than letting the ratio sampler do the same
// work with float comparisons on every span start.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// buildResource attaches service identity plus the host this process is
// running on, so spans from a fleet of mallard-embedding processes can be
// told apart without an extra resource detector at the collector.
func buildResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, resource.WithAttributes(semconv.HostName(host)))
	}
	attrs = append(attrs, resource.WithAttributes(semconv.ProcessPID(os.Getpid())))

	return resource.New(ctx, attrs...)
}
