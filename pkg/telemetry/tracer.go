// Package telemetry configures OpenTelemetry tracing. Tracing is a noop until
// an OTLP endpoint or debug output is configured.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/splax/pagesmith/pkg/config"
)

const instrumentationName = "github.com/splax/pagesmith"

var (
	mu             sync.RWMutex
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
)

// Config holds telemetry settings.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	Insecure       bool
	Debug          bool
}

// ConfigFromEnv reads telemetry settings from the environment.
func ConfigFromEnv(service, version string) Config {
	return Config{
		ServiceName:    config.GetString("PAGESMITH_SERVICE_NAME", service),
		ServiceVersion: version,
		Environment:    config.GetString("APP_ENV", "development"),
		OTLPEndpoint:   config.GetString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Insecure:       config.GetBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		Debug:          config.GetBool("PAGESMITH_TRACE_DEBUG", false),
	}
}

// Init installs the tracer provider. Without an endpoint or debug flag the
// noop tracer is kept.
func Init(ctx context.Context, cfg Config) error {
	if cfg.OTLPEndpoint == "" && !cfg.Debug {
		mu.Lock()
		tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
		mu.Unlock()
		return nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return err
	}

	var exporter sdktrace.SpanExporter
	if cfg.Debug {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptrace.New(dialCtx, otlptracegrpc.NewClient(opts...))
	}
	if err != nil {
		return err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	mu.Lock()
	tracerProvider = provider
	tracer = provider.Tracer(instrumentationName)
	mu.Unlock()
	return nil
}

// Shutdown flushes and stops the tracer provider.
func Shutdown(ctx context.Context) error {
	mu.RLock()
	provider := tracerProvider
	mu.RUnlock()
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// Enabled reports whether spans are exported.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return tracerProvider != nil
}

// Tracer returns the active tracer.
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return tracer
}

// StartSpan starts a span on the active tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// TraceDeployStep starts a span for one deployment step.
func TraceDeployStep(ctx context.Context, projectID, step string) (context.Context, trace.Span) {
	return StartSpan(ctx, "deploy."+step,
		trace.WithAttributes(
			attribute.String("deploy.project_id", projectID),
			attribute.String("deploy.step", step),
		),
	)
}

// TraceHTTP starts a span for an outbound API call.
func TraceHTTP(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http.request",
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
}
