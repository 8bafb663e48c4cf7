package orchestrator

import (
	"context"
	"log/slog"

	"github.com/viant/approver/internal/clock"
	"github.com/viant/approver/internal/idgen"
	"github.com/viant/approver/model"
	"github.com/viant/approver/policy"
	"github.com/viant/approver/service/hook"
)

// Validator performs domain validation of initiation criteria.
type Validator func(ctx context.Context, criteria *model.Criteria) error

// Option customises the orchestrator.
type Option func(s *Service)

// WithHooks registers hooks with the dispatcher.
func WithHooks(hooks ...hook.Hook) Option {
	return func(s *Service) {
		s.pendingHooks = append(s.pendingHooks, hooks...)
	}
}

// WithDispatcher sets the hook dispatcher.
func WithDispatcher(dispatcher *hook.Dispatcher) Option {
	return func(s *Service) {
		s.dispatcher = dispatcher
	}
}

// WithPolicy sets the default authorization policy; a policy attached to the
// call context takes precedence.
func WithPolicy(p *policy.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithRetries sets how many read-evaluate-write cycles a contended operation
// attempts before failing with Conflict.
func WithRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithValidator replaces the default criteria validation.
func WithValidator(validator Validator) Option {
	return func(s *Service) {
		if validator != nil {
			s.validator = validator
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithIDGenerator sets the identifier generator.
func WithIDGenerator(generator idgen.Generator) Option {
	return func(s *Service) {
		s.newID = generator
	}
}
