// Package observability wires OpenTelemetry tracing for flush and merge spans.
//
// Until Init is called the global no-op tracer provider is used, so spans cost
// nothing in tests and in hosts that do not enable tracing.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/gatehits"

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	ServiceName    string        `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
	ServiceVersion string        `yaml:"service_version" json:"service_version" mapstructure:"service_version"`
	SamplingRate   float64       `yaml:"sampling_rate" json:"sampling_rate" mapstructure:"sampling_rate"`
	Exporter       string        `yaml:"exporter" json:"exporter" mapstructure:"exporter"` // stdout or file
	OutputPath     string        `yaml:"output_path" json:"output_path" mapstructure:"output_path"`
	BatchTimeout   time.Duration `yaml:"batch_timeout" json:"batch_timeout" mapstructure:"batch_timeout"`
}

// DefaultTracingConfig returns tracing disabled with sensible settings for when it is turned on.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:        false,
		ServiceName:    "gatehits",
		ServiceVersion: "0.1.0",
		SamplingRate:   1.0,
		Exporter:       "stdout",
		BatchTimeout:   5 * time.Second,
	}
}

// Init installs a global tracer provider and returns its shutdown function.
// A disabled config returns a no-op shutdown.
func Init(ctx context.Context, config TracingConfig) (func(context.Context) error, error) {
	if !config.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var out io.Writer = os.Stdout
	var closer io.Closer
	if config.Exporter == "file" {
		f, err := os.Create(config.OutputPath) //nolint:gosec // path comes from operator configuration
		if err != nil {
			return nil, fmt.Errorf("failed to open trace output: %w", err)
		}
		out, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(config.BatchTimeout)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if closer != nil {
			if cerr := closer.Close(); err == nil {
				err = cerr
			}
		}
		return err
	}, nil
}

// Tracer returns the collector tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span named operation with the given attributes.
func StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, operation, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
