package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/viant/approver/internal/clock"
	"github.com/viant/approver/internal/idgen"
	"github.com/viant/approver/model"
	"github.com/viant/approver/policy"
	"github.com/viant/approver/service/dao"
	"github.com/viant/approver/service/hook"
	"github.com/viant/approver/service/resolver"
	"github.com/viant/approver/tracing"
)

// DefaultRetries bounds read-evaluate-write cycles of contended operations.
const DefaultRetries = 5

// Service drives approval instances through their lifecycle. It keeps no
// in-process locks; all serialization happens in the store.
type Service struct {
	store        dao.Store
	resolver     resolver.Resolver
	dispatcher   *hook.Dispatcher
	pendingHooks []hook.Hook
	policy       *policy.Policy
	validator    Validator
	maxRetries   int
	logger       *slog.Logger
	clock        clock.Clock
	newID        idgen.Generator
}

// Initiate creates a Requested instance for the transaction.
func (s *Service) Initiate(ctx context.Context, transactionID, initiatorID string, criteria *model.Criteria) (result *Result, err error) {
	const op = "Initiate"
	ctx, span := tracing.StartSpan(ctx, "approver.Initiate", tracing.KindInternal)
	span.WithAttributes(map[string]string{"transactionId": transactionID, "initiatorId": initiatorID})
	defer func() { tracing.EndSpan(span, err) }()

	if transactionID == "" || initiatorID == "" {
		return nil, model.NewError(model.KindInvalidRequest, op, "transactionId and initiatorId are required")
	}
	if err = s.validator(ctx, criteria); err != nil {
		return nil, model.WrapError(model.KindInvalidRequest, op, err, "invalid criteria")
	}
	current, _, err := s.store.ReadSnapshot(ctx, transactionID)
	switch {
	case err == nil && current.Status == model.StatusRequested:
		return nil, model.NewError(model.KindInvalidRequest, op, "transaction %v already has active instance %v", transactionID, current.ID)
	case err != nil && !errors.Is(err, dao.ErrNotFound):
		return nil, fmt.Errorf("%s: failed to read transaction %v: %w", op, transactionID, err)
	}

	config, err := s.resolver.Resolve(ctx, criteria)
	if err != nil {
		if errors.Is(err, model.ErrConfigurationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: failed to resolve configuration: %w", op, err)
	}
	if config == nil || len(config.Steps) == 0 {
		return nil, model.NewError(model.KindConfigurationNotFound, op, "empty configuration for transaction %v", transactionID)
	}
	if err = config.Validate(); err != nil {
		return nil, model.WrapError(model.KindConfigurationNotFound, op, err, "invalid configuration %v", config.Name)
	}

	now := s.clock.Now()
	instance := s.newInstance(transactionID, initiatorID, criteria, config, now)
	entry := s.newEntry(instance, initiatorID, model.ActionTypeInitiated, "", "", now)
	if err = s.store.CreateInstance(ctx, instance, entry); err != nil {
		if errors.Is(err, dao.ErrDuplicate) {
			return nil, model.WrapError(model.KindInvalidRequest, op, err, "transaction %v already has an active instance", transactionID)
		}
		return nil, fmt.Errorf("%s: failed to create instance: %w", op, err)
	}
	s.logger.Info("approval initiated", "transactionId", transactionID, "instanceId", instance.ID, "workflow", config.Name, "steps", len(instance.Steps))
	return &Result{Snapshot: model.NewSnapshot(instance, []*model.HistoryEntry{entry}), Message: "initiated"}, nil
}

func (s *Service) newInstance(transactionID, initiatorID string, criteria *model.Criteria, config *model.WorkflowConfig, now time.Time) *model.Instance {
	instance := &model.Instance{
		ID:            s.newID(),
		TransactionID: transactionID,
		Status:        model.StatusRequested,
		InitiatorID:   initiatorID,
		Version:       1,
		Workflow:      config.Name,
		Criteria:      criteria.Clone(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if len(config.Conditions) > 0 {
		instance.Conditions = make(map[string]interface{}, len(config.Conditions))
		for k, v := range config.Conditions {
			instance.Conditions[k] = v
		}
	}
	seen := map[string]int{}
	for _, template := range config.Steps {
		instance.Steps = append(instance.Steps, &model.Step{
			ID:       stepID(template, seen),
			Role:     template.Role,
			Order:    template.Order,
			Parallel: template.IsParallel,
			Status:   model.StepPending,
		})
	}
	instance.SortSteps()
	instance.CurrentOrder = instance.NextOrder()
	return instance
}

// stepID derives a readable id such as "manager-1"; repeated role/order
// pairs get a numeric suffix.
func stepID(template *model.StepTemplate, seen map[string]int) string {
	base := fmt.Sprintf("%s-%d", strings.ToLower(strings.Join(strings.Fields(template.Role), "-")), template.Order)
	seen[base]++
	if count := seen[base]; count > 1 {
		return fmt.Sprintf("%s-%d", base, count)
	}
	return base
}

func (s *Service) newEntry(instance *model.Instance, actorID string, actionType model.ActionType, stepID, comment string, at time.Time) *model.HistoryEntry {
	return &model.HistoryEntry{
		ID:            s.newID(),
		InstanceID:    instance.ID,
		TransactionID: instance.TransactionID,
		ActorID:       actorID,
		ActionType:    actionType,
		StepID:        stepID,
		Comment:       comment,
		Timestamp:     at,
	}
}

// ProcessAction applies an Approve or Reject action to a step.
func (s *Service) ProcessAction(ctx context.Context, request *ActionRequest) (result *Result, err error) {
	const op = "ProcessAction"
	if err = request.validate(op); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "approver.ProcessAction", tracing.KindInternal)
	span.WithAttributes(map[string]string{
		"transactionId": request.TransactionID,
		"stepId":        request.StepID,
		"actorId":       request.Actor.ID,
		"action":        string(request.Action),
	})
	defer func() { tracing.EndSpan(span, err) }()

	result = &Result{}
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		instance, history, err := s.load(ctx, op, request.TransactionID)
		if err != nil {
			return nil, err
		}
		if needsSettle(instance) {
			settled, err := s.settle(ctx, op, request.TransactionID)
			if err != nil {
				return nil, err
			}
			if settled.finalized {
				s.finalize(ctx, settled, request.Actor.ID, request.StepID, request.Action, result)
			}
			instance, history = settled.instance, settled.history
		}

		step := instance.StepByID(request.StepID)
		if step == nil {
			return nil, model.NewError(model.KindNotFound, op, "step %v not found in transaction %v", request.StepID, request.TransactionID)
		}
		if step.Status != model.StepPending {
			return s.resolved(op, instance, history, step, request, result)
		}
		if instance.Status != model.StatusRequested {
			return nil, model.NewError(model.KindNotFound, op, "transaction %v is %v", request.TransactionID, instance.Status)
		}

		p := policy.FromContext(ctx)
		if p == nil {
			p = s.policy
		}
		if err = p.Authorize(ctx, request.Actor, step, instance); err != nil {
			return nil, err
		}

		event := &hook.Event{Action: request.Action, ActorID: request.Actor.ID, StepID: step.ID, Comment: request.Comment, Snapshot: model.NewSnapshot(instance, history)}
		if failures := s.dispatcher.Dispatch(ctx, hook.BeforeAction, event); len(failures) > 0 {
			return nil, model.WrapError(model.KindInvalidRequest, op, failures[0], "action vetoed")
		}

		now := s.clock.Now()
		entry := s.newEntry(instance, request.Actor.ID, request.Action.ActionType(), step.ID, request.Comment, now)
		update := &dao.StepUpdate{Status: request.Action.StepStatus(), ActedBy: request.Actor.ID, ActedAt: now, Comment: request.Comment, History: entry}
		err = s.store.ConditionalUpdateStep(ctx, instance.ID, step.ID, model.StepPending, update)
		switch {
		case errors.Is(err, dao.ErrStatusMismatch):
			s.logger.Debug("step changed concurrently", "transactionId", request.TransactionID, "stepId", step.ID, "attempt", attempt+1)
			continue
		case errors.Is(err, dao.ErrNotFound):
			return nil, model.WrapError(model.KindNotFound, op, err, "step %v", step.ID)
		case err != nil:
			return nil, fmt.Errorf("%s: failed to update step %v: %w", op, step.ID, err)
		}

		persisted := instance.Clone()
		_ = dao.UpdateStep(persisted, step.ID, model.StepPending, update)
		event.Snapshot = model.NewSnapshot(persisted, append(history, entry))
		failures := s.dispatcher.Dispatch(ctx, hook.AfterStepPersisted, event)
		result.HookFailures = append(result.HookFailures, failures...)
		s.audit(ctx, persisted, request.Actor.ID, step.ID, failures)

		settled, err := s.settle(ctx, op, request.TransactionID)
		if err != nil {
			return nil, err
		}
		if settled.finalized {
			s.finalize(ctx, settled, request.Actor.ID, step.ID, request.Action, result)
		}
		result.Snapshot = model.NewSnapshot(settled.instance, settled.history)
		result.Finalized = settled.finalized
		result.Message = message(settled.instance, step.Order)
		return result, nil
	}
	return nil, model.NewError(model.KindConflict, op, "step %v of transaction %v still contended after %d attempts", request.StepID, request.TransactionID, s.maxRetries)
}

// resolved handles an action on a step that already left Pending.
func (s *Service) resolved(op string, instance *model.Instance, history []*model.HistoryEntry, step *model.Step, request *ActionRequest, result *Result) (*Result, error) {
	switch step.Status {
	case model.StepApproved, model.StepRejected:
		if step.Status == request.Action.StepStatus() && step.ActedBy == request.Actor.ID {
			result.Snapshot = model.NewSnapshot(instance, history)
			result.Idempotent = true
			result.Message = message(instance, step.Order)
			return result, nil
		}
		return nil, model.NewError(model.KindConflict, op, "step %v already %v by %v", step.ID, step.Status, step.ActedBy)
	}
	if instance.Status == model.StatusCancelled {
		return nil, model.NewError(model.KindConflict, op, "transaction %v was cancelled", instance.TransactionID)
	}
	return nil, model.NewError(model.KindNotFound, op, "no pending step %v in transaction %v (%v)", step.ID, instance.TransactionID, instance.Status)
}

// Cancel cancels a Requested instance on behalf of its initiator.
func (s *Service) Cancel(ctx context.Context, transactionID, actorID string) (result *Result, err error) {
	const op = "Cancel"
	ctx, span := tracing.StartSpan(ctx, "approver.Cancel", tracing.KindInternal)
	span.WithAttributes(map[string]string{"transactionId": transactionID, "actorId": actorID})
	defer func() { tracing.EndSpan(span, err) }()

	if transactionID == "" || actorID == "" {
		return nil, model.NewError(model.KindInvalidRequest, op, "transactionId and actorId are required")
	}
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		instance, history, err := s.load(ctx, op, transactionID)
		if err != nil {
			return nil, err
		}
		if actorID != instance.InitiatorID {
			return nil, model.NewError(model.KindUnauthorized, op, "only initiator %v may cancel transaction %v", instance.InitiatorID, transactionID)
		}
		if needsSettle(instance) {
			settled, err := s.settle(ctx, op, transactionID)
			if err != nil {
				return nil, err
			}
			if settled.finalized {
				decider, stepID, action := lastDecision(settled.history)
				s.finalize(ctx, settled, decider, stepID, action, &Result{})
			}
			instance, history = settled.instance, settled.history
		}
		if instance.Status != model.StatusRequested {
			return nil, model.NewError(model.KindConflict, op, "transaction %v is already %v", transactionID, instance.Status)
		}
		now := s.clock.Now()
		update := &dao.InstanceUpdate{
			Status:        model.StatusCancelled,
			CancelPending: true,
			FinalizedAt:   &now,
			UpdatedAt:     now,
			History:       []*model.HistoryEntry{s.newEntry(instance, actorID, model.ActionTypeCancelled, "", "", now)},
		}
		err = s.store.ConditionalAdvanceInstance(ctx, instance.ID, instance.Version, update)
		if errors.Is(err, dao.ErrVersionMismatch) {
			s.logger.Debug("cancel lost version race", "transactionId", transactionID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: failed to cancel transaction %v: %w", op, transactionID, err)
		}
		expected := instance.Version
		_ = dao.AdvanceInstance(instance, expected, update)
		settled := &settlement{instance: instance, history: append(history, update.History...), finalized: true}
		result = &Result{Finalized: true, Message: "cancelled"}
		s.finalize(ctx, settled, actorID, "", model.ActionCancel, result)
		result.Snapshot = model.NewSnapshot(settled.instance, settled.history)
		return result, nil
	}
	return nil, model.NewError(model.KindConflict, op, "transaction %v still contended after %d attempts", transactionID, s.maxRetries)
}

// Snapshot returns the read model of the latest instance of the transaction.
func (s *Service) Snapshot(ctx context.Context, transactionID string) (*model.Snapshot, error) {
	const op = "Snapshot"
	if transactionID == "" {
		return nil, model.NewError(model.KindInvalidRequest, op, "transactionId was empty")
	}
	instance, history, err := s.load(ctx, op, transactionID)
	if err != nil {
		return nil, err
	}
	return model.NewSnapshot(instance, history), nil
}

// Pending returns Requested instances whose current group has a step the
// actor may act on. History is not included.
func (s *Service) Pending(ctx context.Context, actor *model.Actor) ([]*model.Snapshot, error) {
	const op = "Pending"
	if actor == nil || actor.ID == "" {
		return nil, model.NewError(model.KindInvalidRequest, op, "actor was empty")
	}
	instances, err := s.store.List(ctx, dao.NewParameter(dao.StatusParameter, string(model.StatusRequested)))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list instances: %w", op, err)
	}
	p := policy.FromContext(ctx)
	if p == nil {
		p = s.policy
	}
	var ret []*model.Snapshot
	for _, instance := range instances {
		if instance = projected(instance, s.clock.Now()); instance.Status != model.StatusRequested {
			continue
		}
		for _, step := range instance.PendingAt(instance.CurrentOrder) {
			if p.Authorize(ctx, actor, step, instance) == nil {
				ret = append(ret, model.NewSnapshot(instance, nil))
				break
			}
		}
	}
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].TransactionID < ret[j].TransactionID
	})
	return ret, nil
}

func (s *Service) load(ctx context.Context, op, transactionID string) (*model.Instance, []*model.HistoryEntry, error) {
	instance, history, err := s.store.ReadSnapshot(ctx, transactionID)
	if errors.Is(err, dao.ErrNotFound) {
		return nil, nil, model.NewError(model.KindNotFound, op, "no instance for transaction %v", transactionID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to read transaction %v: %w", op, transactionID, err)
	}
	return instance, history, nil
}

func message(instance *model.Instance, order int) string {
	switch instance.Status {
	case model.StatusApproved:
		return "approved"
	case model.StatusRejected:
		return "rejected"
	case model.StatusCancelled:
		return "cancelled"
	}
	if instance.CurrentOrder > order {
		return fmt.Sprintf("advanced to order %d", instance.CurrentOrder)
	}
	return "pending peer roles: " + strings.Join(instance.CanActRoles(), ", ")
}

// New creates an orchestrator.
func New(store dao.Store, resolver resolver.Resolver, options ...Option) *Service {
	ret := &Service{
		store:      store,
		resolver:   resolver,
		maxRetries: DefaultRetries,
		logger:     slog.Default(),
		clock:      clock.System,
		newID:      idgen.UUID,
		validator: func(_ context.Context, criteria *model.Criteria) error {
			return criteria.Validate()
		},
	}
	for _, opt := range options {
		opt(ret)
	}
	if ret.dispatcher == nil {
		ret.dispatcher = hook.NewDispatcher(hook.WithLogger(ret.logger))
	}
	ret.dispatcher.Register(ret.pendingHooks...)
	ret.pendingHooks = nil
	return ret
}
