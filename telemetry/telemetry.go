// Package telemetry sets up OpenTelemetry tracing for warden. When disabled
// every tracer is a no-op.
package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/m4xw311/warden/config"
	"github.com/m4xw311/warden/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope of warden spans.
const TracerName = "github.com/m4xw311/warden"

// Version is reported in telemetry and in the ACP agentInfo.
const Version = "v0.3.0"

type Provider struct {
	Tracer   trace.Tracer
	shutdown func(context.Context) error
}

// Init installs the global tracer provider described by cfg. stdout is never
// used as a span sink: the stdout exporter writes to cfg.File.
func Init(ctx context.Context, cfg config.Telemetry) (*Provider, error) {
	if !cfg.Enabled || cfg.Exporter == "none" || cfg.Exporter == "" {
		return &Provider{
			Tracer:   nooptrace.NewTracerProvider().Tracer(TracerName),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "warden"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.String("warden.version", Version),
	))
	if err != nil {
		return nil, errors.Wrapf(err, "create resource")
	}

	exporter, closer, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "create exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		Tracer: tp.Tracer(TracerName),
		shutdown: func(ctx context.Context) error {
			err := tp.Shutdown(ctx)
			if closer != nil {
				err = errors.Join(err, closer.Close())
			}
			return err
		},
	}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func newExporter(ctx context.Context, cfg config.Telemetry) (sdktrace.SpanExporter, io.Closer, error) {
	switch cfg.Exporter {
	case "otlp":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
		return exp, nil, err
	case "stdout":
		if cfg.File == "" {
			return nil, nil, errors.New("telemetry.file is required for the stdout exporter")
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open %s", cfg.File)
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return exp, f, nil
	default:
		return nil, nil, errors.New("unknown exporter: %s (supported: otlp, stdout, none)", cfg.Exporter)
	}
}
