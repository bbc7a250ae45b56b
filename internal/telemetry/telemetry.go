// Package telemetry installs the OpenTelemetry tracer provider. When tracing
// is disabled the global no-op provider stays in place, so spans started
// through Tracer cost nothing.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

const instrumentationName = "github.com/hrninfomeet-wq/Perplexity-dashboard-sub003"

// Config controls the tracer provider.
type Config struct {
	Enabled     bool
	ServiceName string
	Version     string
	Writer      io.Writer // span output; nil means stdout
}

// Init installs a batching tracer provider exporting to cfg.Writer and
// returns its shutdown function. With tracing disabled it returns a no-op
// shutdown.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []stdouttrace.Option{}
	if cfg.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns a tracer from the global provider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationName + "/" + component)
}

// End records err on span and ends it. Business rejections are tagged with
// their code and leave the span status unset.
func End(span trace.Span, err error) {
	if code, ok := domain.RejectionCodeOf(err); ok {
		span.SetAttributes(attribute.String("papertrade.rejection", string(code)))
	} else if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SessionAttr tags a span with the session it acts on.
func SessionAttr(id string) attribute.KeyValue {
	return attribute.String("papertrade.session_id", id)
}
