package orchestrator

import "github.com/viant/approver/model"

// ActionRequest represents an approver intent on a step.
type ActionRequest struct {
	TransactionID string
	StepID        string
	Actor         *model.Actor
	Action        model.Action
	Comment       string
}

func (r *ActionRequest) validate(op string) error {
	if r == nil {
		return model.NewError(model.KindInvalidRequest, op, "request was empty")
	}
	if r.TransactionID == "" || r.StepID == "" {
		return model.NewError(model.KindInvalidRequest, op, "transactionId and stepId are required")
	}
	if r.Actor == nil || r.Actor.ID == "" {
		return model.NewError(model.KindInvalidRequest, op, "actor was empty")
	}
	if !r.Action.IsValid() {
		return model.NewError(model.KindInvalidRequest, op, "unsupported action %q", r.Action)
	}
	return nil
}

// Result is returned by state-changing operations.
type Result struct {
	Snapshot *model.Snapshot `json:"snapshot"`
	Message  string          `json:"message,omitempty"`
	// Idempotent is set when a retried action found its own prior outcome.
	Idempotent bool `json:"idempotent,omitempty"`
	// Finalized is set only for the call whose write committed the terminal
	// status.
	Finalized    bool                 `json:"finalized,omitempty"`
	HookFailures []*model.HookFailure `json:"hookFailures,omitempty"`
}

// Partial returns true when the transition committed but a post-commit hook
// failed.
func (r *Result) Partial() bool {
	return r != nil && len(r.HookFailures) > 0
}
