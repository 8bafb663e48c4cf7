package approval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/viant/approver/model"
	"github.com/viant/approver/runtime/orchestrator"
)

// Service is the orchestrator surface used by automated approvers.
type Service interface {
	Pending(ctx context.Context, actor *model.Actor) ([]*model.Snapshot, error)
	ProcessAction(ctx context.Context, request *orchestrator.ActionRequest) (*orchestrator.Result, error)
}

// Decision is an automated outcome for a step.
type Decision struct {
	Action  model.Action
	Comment string
}

// DecisionFunc decides what to do with a pending step; nil leaves the step
// to human approvers.
type DecisionFunc func(snapshot *model.Snapshot, step *model.StepView) *Decision

// DecideOnce applies fn to every step the actor can act on now and returns
// the number of committed actions. Steps taken by someone else meanwhile are
// skipped.
func DecideOnce(ctx context.Context, svc Service, actor *model.Actor, fn DecisionFunc) (int, error) {
	snapshots, err := svc.Pending(ctx, actor)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, snapshot := range snapshots {
		for _, step := range snapshot.Steps {
			if step.Status != model.StepPending || step.Order != snapshot.CurrentOrder || !actor.HasRole(step.Role) {
				continue
			}
			decision := fn(snapshot, step)
			if decision == nil {
				continue
			}
			result, err := svc.ProcessAction(ctx, &orchestrator.ActionRequest{
				TransactionID: snapshot.TransactionID,
				StepID:        step.ID,
				Actor:         actor,
				Action:        decision.Action,
				Comment:       decision.Comment,
			})
			switch {
			case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrNotFound):
				continue
			case err != nil:
				return applied, err
			}
			if !result.Idempotent {
				applied++
			}
			if result.Snapshot.Status.IsTerminal() {
				break
			}
		}
	}
	return applied, nil
}

// AutoDecider starts a goroutine that calls DecideOnce every interval. It
// returns stop(); call it (or cancel ctx) to exit.
func AutoDecider(ctx context.Context, svc Service, actor *model.Actor, fn DecisionFunc, interval time.Duration, logger *slog.Logger) (stop func()) {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				applied, err := DecideOnce(ctx, svc, actor, fn)
				if err != nil && ctx.Err() == nil {
					logger.Warn("automated decision failed", "actorId", actor.ID, "error", err)
				}
				if applied > 0 {
					logger.Info("automated decisions applied", "actorId", actor.ID, "count", applied)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// AutoApprove approves every step the actor can act on.
func AutoApprove(ctx context.Context, svc Service, actor *model.Actor, comment string, interval time.Duration, logger *slog.Logger) func() {
	return AutoDecider(ctx, svc, actor, func(*model.Snapshot, *model.StepView) *Decision {
		return &Decision{Action: model.ActionApprove, Comment: comment}
	}, interval, logger)
}

// AutoReject rejects every step the actor can act on with the given reason.
func AutoReject(ctx context.Context, svc Service, actor *model.Actor, reason string, interval time.Duration, logger *slog.Logger) func() {
	return AutoDecider(ctx, svc, actor, func(*model.Snapshot, *model.StepView) *Decision {
		return &Decision{Action: model.ActionReject, Comment: reason}
	}, interval, logger)
}
