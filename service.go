package approver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/viant/afs/url"
	"github.com/viant/approver/internal/logging"
	"github.com/viant/approver/model"
	"github.com/viant/approver/policy"
	"github.com/viant/approver/runtime/orchestrator"
	"github.com/viant/approver/service/dao"
	daofs "github.com/viant/approver/service/dao/fs"
	"github.com/viant/approver/service/dao/memory"
	"github.com/viant/approver/service/dao/rdbms"
	"github.com/viant/approver/service/event"
	"github.com/viant/approver/service/hook"
	"github.com/viant/approver/service/messaging"
	qfs "github.com/viant/approver/service/messaging/fs"
	"github.com/viant/approver/service/resolver"
	"github.com/viant/approver/service/resolver/rule"
	"github.com/viant/approver/tracing"
)

// Service is the approval facade: it wires storage, configuration
// resolution, hooks and events around the orchestrator.
type Service struct {
	runtime             *Runtime
	orchestrator        *orchestrator.Service
	store               dao.Store
	resolver            resolver.Resolver
	hooks               []hook.Hook
	policy              *policy.Policy
	eventService        *event.Service
	eventPoints         []hook.Point
	logger              *slog.Logger
	orchestratorOptions []orchestrator.Option
	closers             []func(ctx context.Context) error
}

func (s *Service) init(options []Option) error {
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.store == nil {
		s.store = memory.New()
	}
	if s.resolver == nil {
		return fmt.Errorf("configuration resolver was not set")
	}
	if s.eventService != nil {
		publisher, err := event.PublisherOf[event.Lifecycle](s.eventService)
		if err != nil {
			return fmt.Errorf("failed to create lifecycle publisher: %w", err)
		}
		s.hooks = append(s.hooks, event.NewHooks(publisher, s.eventPoints...)...)
	}
	opts := []orchestrator.Option{
		orchestrator.WithLogger(s.logger),
		orchestrator.WithPolicy(s.policy),
		orchestrator.WithHooks(s.hooks...),
	}
	s.orchestrator = orchestrator.New(s.store, s.resolver, append(opts, s.orchestratorOptions...)...)
	s.runtime = &Runtime{orchestrator: s.orchestrator, events: s.eventService, logger: s.logger}
	if rules, ok := s.resolver.(*rule.Service); ok {
		s.runtime.rules = rules
	}
	return nil
}

// New creates a service. WithResolver is required.
func New(options ...Option) (*Service, error) {
	ret := &Service{}
	if err := ret.init(options); err != nil {
		return nil, err
	}
	return ret, nil
}

// NewFromConfig builds the store, rule resolver and event service described
// by config; options are applied afterwards and may override them.
func NewFromConfig(ctx context.Context, config *Config, options ...Option) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ret := &Service{logger: logging.New(config.Log.Level)}
	if config.Tracing.Enabled {
		if err := tracing.Init("approver", Version, config.Tracing.Output); err != nil {
			return nil, fmt.Errorf("failed to initialise tracing: %w", err)
		}
		ret.closers = append(ret.closers, tracing.Shutdown)
	}
	store, err := ret.newStore(ctx, &config.Store)
	if err != nil {
		_ = ret.Close(ctx)
		return nil, err
	}
	rules, err := rule.Load(ctx, config.Resolver.RulesURL)
	if err != nil {
		_ = ret.Close(ctx)
		return nil, err
	}
	base := []Option{
		WithStore(store),
		WithResolver(rules),
		WithPolicy(policy.FromConfig(config.Policy)),
		WithOrchestratorOptions(orchestrator.WithRetries(config.Orchestrator.MaxRetries)),
	}
	if config.Events.Enabled {
		events, err := newEventService(&config.Events, ret.logger)
		if err != nil {
			_ = ret.Close(ctx)
			return nil, err
		}
		ret.closers = append(ret.closers, func(context.Context) error {
			events.Close()
			return nil
		})
		var points []hook.Point
		if config.Events.Steps {
			points = []hook.Point{hook.AfterStepPersisted, hook.AfterInstanceFinalized}
		}
		base = append(base, WithEventService(events, points...))
	}
	if err = ret.init(append(base, options...)); err != nil {
		_ = ret.Close(ctx)
		return nil, err
	}
	return ret, nil
}

func (s *Service) newStore(ctx context.Context, config *StoreConfig) (dao.Store, error) {
	switch strings.ToLower(config.Kind) {
	case StoreFs:
		return daofs.New(config.BaseURL)
	case StoreMySQL:
		dsn, err := resolveDSN(ctx, config)
		if err != nil {
			return nil, err
		}
		store, err := rdbms.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return store.Close() })
		if config.Migrate {
			if err = store.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil
	}
	return memory.New(), nil
}

func newEventService(config *EventsConfig, logger *slog.Logger) (*event.Service, error) {
	vendor := messaging.Vendor(config.Vendor)
	options := []event.Option{event.WithLogger(logger)}
	if vendor == messaging.VendorFs {
		options = append(options, event.WithNewFsQueueConfig(func(name string) qfs.Config {
			return qfs.DefaultConfig(url.Join(config.BaseURL, name))
		}))
	}
	return event.New(vendor, options...)
}

// Runtime returns the runtime helpers.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// Orchestrator returns the underlying orchestrator.
func (s *Service) Orchestrator() *orchestrator.Service {
	return s.orchestrator
}

// Initiate starts approval of a transaction.
func (s *Service) Initiate(ctx context.Context, transactionID, initiatorID string, criteria *model.Criteria) (*orchestrator.Result, error) {
	return s.orchestrator.Initiate(ctx, transactionID, initiatorID, criteria)
}

// Approve approves a step on behalf of actor.
func (s *Service) Approve(ctx context.Context, transactionID, stepID string, actor *model.Actor, comment string) (*orchestrator.Result, error) {
	return s.orchestrator.ProcessAction(ctx, &orchestrator.ActionRequest{TransactionID: transactionID, StepID: stepID, Actor: actor, Action: model.ActionApprove, Comment: comment})
}

// Reject rejects a step on behalf of actor.
func (s *Service) Reject(ctx context.Context, transactionID, stepID string, actor *model.Actor, comment string) (*orchestrator.Result, error) {
	return s.orchestrator.ProcessAction(ctx, &orchestrator.ActionRequest{TransactionID: transactionID, StepID: stepID, Actor: actor, Action: model.ActionReject, Comment: comment})
}

// Cancel cancels a Requested instance; only its initiator may do so.
func (s *Service) Cancel(ctx context.Context, transactionID, actorID string) (*orchestrator.Result, error) {
	return s.orchestrator.Cancel(ctx, transactionID, actorID)
}

// Snapshot returns the current read model of the transaction.
func (s *Service) Snapshot(ctx context.Context, transactionID string) (*model.Snapshot, error) {
	return s.orchestrator.Snapshot(ctx, transactionID)
}

// Pending lists transactions awaiting the actor.
func (s *Service) Pending(ctx context.Context, actor *model.Actor) ([]*model.Snapshot, error) {
	return s.orchestrator.Pending(ctx, actor)
}

// Close stops background work and releases resources in reverse order.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.runtime != nil {
		errs = append(errs, s.runtime.Shutdown(ctx))
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	s.closers = nil
	return errors.Join(errs...)
}
