package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viant/approver/model"
	"github.com/viant/approver/service/dao"
	"github.com/viant/approver/service/hook"
)

// settlement is the outcome of a settle loop. finalized is true only when
// this call committed the terminal status.
type settlement struct {
	instance  *model.Instance
	history   []*model.HistoryEntry
	finalized bool
}

// needsSettle reports a Requested instance whose current group is already
// resolved but was never advanced, for example after a crash between the step
// write and the instance write.
func needsSettle(instance *model.Instance) bool {
	if instance.Status != model.StatusRequested {
		return false
	}
	return instance.HasRejection() || len(instance.PendingAt(instance.CurrentOrder)) == 0
}

// nextState returns the instance update implied by the step states, or nil
// when the current group still waits on peers.
func nextState(instance *model.Instance, now time.Time) *dao.InstanceUpdate {
	if instance.HasRejection() {
		return &dao.InstanceUpdate{Status: model.StatusRejected, CancelPending: true, FinalizedAt: &now, UpdatedAt: now}
	}
	if len(instance.PendingAt(instance.CurrentOrder)) > 0 {
		return nil
	}
	next := instance.NextOrder()
	if next == 0 {
		return &dao.InstanceUpdate{Status: model.StatusApproved, FinalizedAt: &now, UpdatedAt: now}
	}
	return &dao.InstanceUpdate{CurrentOrder: next, UpdatedAt: now}
}

// projected returns the state instance settles to without writing it. A
// group whose advance was not persisted yet is viewed as advanced.
func projected(instance *model.Instance, now time.Time) *model.Instance {
	if !needsSettle(instance) {
		return instance
	}
	update := nextState(instance, now)
	if update == nil {
		return instance
	}
	ret := instance.Clone()
	_ = dao.AdvanceInstance(ret, ret.Version, update)
	return ret
}

// lastDecision returns the most recent step action in history, used to
// attribute a finalization committed on behalf of another caller.
func lastDecision(history []*model.HistoryEntry) (actorID, stepID string, action model.Action) {
	for i := len(history) - 1; i >= 0; i-- {
		switch entry := history[i]; entry.ActionType {
		case model.ActionTypeApproved:
			return entry.ActorID, entry.StepID, model.ActionApprove
		case model.ActionTypeRejected:
			return entry.ActorID, entry.StepID, model.ActionReject
		}
	}
	return "", "", ""
}

// settle advances the instance by conditional version writes until no
// further transition applies.
func (s *Service) settle(ctx context.Context, op, transactionID string) (*settlement, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		instance, history, err := s.load(ctx, op, transactionID)
		if err != nil {
			return nil, err
		}
		if instance.Status.IsTerminal() {
			return &settlement{instance: instance, history: history}, nil
		}
		update := nextState(instance, s.clock.Now())
		if update == nil {
			return &settlement{instance: instance, history: history}, nil
		}
		expected := instance.Version
		err = s.store.ConditionalAdvanceInstance(ctx, instance.ID, expected, update)
		if errors.Is(err, dao.ErrVersionMismatch) {
			s.logger.Debug("settle lost version race", "transactionId", transactionID, "version", expected, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: failed to advance transaction %v: %w", op, transactionID, err)
		}
		_ = dao.AdvanceInstance(instance, expected, update)
		if update.Status.IsTerminal() {
			s.logger.Info("approval finalized", "transactionId", transactionID, "instanceId", instance.ID, "status", instance.Status)
		} else {
			s.logger.Info("approval advanced", "transactionId", transactionID, "instanceId", instance.ID, "order", instance.CurrentOrder)
		}
		return &settlement{instance: instance, history: history, finalized: update.Status.IsTerminal()}, nil
	}
	s.logger.Warn("settle retries exhausted", "transactionId", transactionID, "retries", s.maxRetries)
	return nil, model.WrapError(model.KindConflict, op, dao.ErrVersionMismatch, "retries exhausted")
}

// finalize runs AfterInstanceFinalized hooks for the caller that committed
// the terminal status.
func (s *Service) finalize(ctx context.Context, settled *settlement, actorID, stepID string, action model.Action, result *Result) {
	event := &hook.Event{
		Action:   action,
		ActorID:  actorID,
		StepID:   stepID,
		Snapshot: model.NewSnapshot(settled.instance, settled.history),
	}
	failures := s.dispatcher.Dispatch(ctx, hook.AfterInstanceFinalized, event)
	result.HookFailures = append(result.HookFailures, failures...)
	s.audit(ctx, settled.instance, actorID, stepID, failures)
}

// audit appends a HookFailed entry per failure. The committed transition
// stands regardless of the outcome.
func (s *Service) audit(ctx context.Context, instance *model.Instance, actorID, stepID string, failures []*model.HookFailure) {
	for _, failure := range failures {
		entry := s.newEntry(instance, actorID, model.ActionTypeHookFailed, stepID, failure.Error(), s.clock.Now())
		if err := s.store.AppendHistory(ctx, entry); err != nil {
			s.logger.Error("failed to record hook failure", "transactionId", instance.TransactionID, "hook", failure.Hook, "error", err)
		}
	}
}
