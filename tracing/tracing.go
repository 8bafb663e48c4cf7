package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/viant/approver/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentation = "github.com/viant/approver"
	errorKindKey    = attribute.Key("approval.error_kind")
)

// Span kinds accepted by StartSpan.
const (
	KindInternal = "INTERNAL"
	KindClient   = "CLIENT"
	KindProducer = "PRODUCER"
	KindConsumer = "CONSUMER"
)

var spanKinds = map[string]trace.SpanKind{
	KindInternal: trace.SpanKindInternal,
	KindClient:   trace.SpanKindClient,
	KindProducer: trace.SpanKindProducer,
	KindConsumer: trace.SpanKindConsumer,
}

var (
	installOnce sync.Once
	installErr  error
	provider    *sdktrace.TracerProvider
)

// Init installs a stdout exporter writing JSON spans to outputFile, or to
// os.Stdout when outputFile is empty. Only the first installation takes
// effect.
func Init(serviceName, serviceVersion, outputFile string) error {
	var writer io.Writer = os.Stdout
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		writer = file
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
	if err != nil {
		return err
	}
	return InitWithExporter(serviceName, serviceVersion, exporter)
}

// InitWithExporter installs exporter as the global span sink.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		return nil
	}
	installOnce.Do(func() {
		res, err := resource.New(context.Background(), resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		))
		if err != nil {
			installErr = err
			return
		}
		provider = sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	})
	return installErr
}

// Shutdown flushes and stops the installed provider.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// Span is a started span.
type Span struct {
	span trace.Span
}

// WithAttributes sets string attributes.
func (s *Span) WithAttributes(attrs map[string]string) *Span {
	if s == nil {
		return s
	}
	for key, value := range attrs {
		s.span.SetAttributes(attribute.String(key, value))
	}
	return s
}

// StartSpan starts a span of kind under ctx; unknown kinds are internal.
func StartSpan(ctx context.Context, name, kind string) (context.Context, *Span) {
	spanKind, ok := spanKinds[kind]
	if !ok {
		spanKind = trace.SpanKindInternal
	}
	ctx, span := otel.Tracer(instrumentation).Start(ctx, name, trace.WithSpanKind(spanKind))
	return ctx, &Span{span: span}
}

// EndSpan ends span, recording err and its approval error kind when set.
func EndSpan(s *Span, err error) {
	if s == nil {
		return
	}
	defer s.span.End()
	if err == nil {
		s.span.SetStatus(codes.Ok, "")
		return
	}
	if kind, ok := model.KindOf(err); ok {
		s.span.SetAttributes(errorKindKey.String(string(kind)))
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
