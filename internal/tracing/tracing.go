// Package tracing is a thin wrapper around OpenTelemetry so the rest of the
// code base starts and ends spans without importing the SDK. Until Init is
// called the global no-op provider is used and spans cost nothing.
package tracing

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/mattjoyce/conductor"

var (
	providerOnce sync.Once
	providerErr  error
	provider     *sdktrace.TracerProvider

	// output is the trace file opened by Init; Shutdown closes it.
	output io.Closer
)

// Init configures the stdout exporter. An empty outputFile writes to os.Stdout.
// The first successful initialisation wins; a later call closes its own file.
func Init(serviceName, serviceVersion, outputFile string) error {
	var w io.Writer = os.Stdout
	var f *os.File
	if outputFile != "" {
		var err error
		f, err = os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		w = f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err == nil {
		var installed bool
		installed, err = install(serviceName, serviceVersion, exporter)
		if installed && f != nil {
			output = f
			return nil
		}
	}
	if f != nil {
		_ = f.Close()
	}
	return err
}

// InitWithExporter registers exporter behind a synchronous span processor.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		return nil
	}
	_, err := install(serviceName, serviceVersion, exporter)
	return err
}

// install reports whether exporter became the active one.
func install(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (bool, error) {
	installed := false
	providerOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
		installed = true
	})
	return installed, providerErr
}

// Shutdown flushes and stops the provider installed by Init, if any, then
// closes the trace file.
func Shutdown(ctx context.Context) error {
	var err error
	if provider != nil {
		err = provider.Shutdown(ctx)
	}
	if output != nil {
		err = errors.Join(err, output.Close())
		output = nil
	}
	return err
}

// Span wraps an OpenTelemetry span.
type Span struct {
	span trace.Span
}

// Start opens a span named name as a child of any span in ctx.
func Start(ctx context.Context, name string, attrs map[string]string) (context.Context, *Span) {
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.String(k, v))
	}
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(kv...))
	return ctx, &Span{span: span}
}

// SetAttribute attaches a string attribute.
func (s *Span) SetAttribute(key, value string) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(attribute.String(key, value))
}

// End records err (if any) as the span status and closes the span.
func (s *Span) End(err error) {
	if s == nil || s.span == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
