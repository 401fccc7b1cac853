package tracing

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for spans started by this module.
const tracerName = "github.com/vocalis/vocalis"

// Options configures the process-wide tracer provider.
type Options struct {
	ServiceName string
	Version     string

	// SampleRatio is the fraction of new traces recorded, clamped to
	// [0, 1]. Child spans inherit their parent's decision, so a sampled
	// session records its turn, tool and hand-off spans in full.
	SampleRatio float64

	// StdoutExport writes finished spans to stderr. Development only.
	StdoutExport bool
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// Init installs the global tracer provider. The first call wins; later calls
// are no-ops until Shutdown.
func Init(opts Options) error {
	providerMu.Lock()
	defer providerMu.Unlock()
	if provider != nil {
		return nil
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(opts.ServiceName),
		attribute.String("vocalis.component", "daemon"),
	}
	if opts.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(opts.Version))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return err
	}

	ratio := opts.SampleRatio
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	}
	if opts.StdoutExport {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return err
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	provider = sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(provider)
	return nil
}

// Shutdown flushes and tears down the provider installed by Init.
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	provider = nil
	providerMu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span for one session operation and keeps the logging
// trace id aligned with the span's trace.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if sc := span.SpanContext(); sc.IsValid() {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}
