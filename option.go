package approver

import (
	"log/slog"

	"github.com/viant/approver/policy"
	"github.com/viant/approver/runtime/orchestrator"
	"github.com/viant/approver/service/dao"
	"github.com/viant/approver/service/event"
	"github.com/viant/approver/service/hook"
	"github.com/viant/approver/service/resolver"
	"github.com/viant/approver/tracing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises the service.
type Option func(s *Service)

// WithStore sets the persistence backend; defaults to the memory store.
func WithStore(store dao.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithResolver sets the configuration resolver.
func WithResolver(r resolver.Resolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithHooks registers extension hooks.
func WithHooks(hooks ...hook.Hook) Option {
	return func(s *Service) {
		s.hooks = append(s.hooks, hooks...)
	}
}

// WithPolicy sets the default authorization policy.
func WithPolicy(p *policy.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithEventService publishes lifecycle events through service.
func WithEventService(service *event.Service, points ...hook.Point) Option {
	return func(s *Service) {
		s.eventService = service
		s.eventPoints = points
	}
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithOrchestratorOptions passes additional options to orchestrator.New.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(s *Service) {
		s.orchestratorOptions = append(s.orchestratorOptions, opts...)
	}
}

// WithTracing configures OpenTelemetry tracing with the stdout exporter. If
// outputFile is empty traces go to stdout. The first successful
// initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		if err := tracing.Init(serviceName, serviceVersion, outputFile); err != nil && s.logger != nil {
			s.logger.Warn("failed to initialise tracing", "error", err)
		}
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom
// SpanExporter, for example OTLP or Jaeger.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
