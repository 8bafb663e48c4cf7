package model

import (
	"sort"
	"time"
)

// Instance represents a single approval attempt for a transaction.
type Instance struct {
	ID            string                 `json:"id"`
	TransactionID string                 `json:"transactionId"`
	Status        Status                 `json:"status"`
	InitiatorID   string                 `json:"initiatorId"`
	Version       int                    `json:"version"`
	CurrentOrder  int                    `json:"currentOrder"`
	Workflow      string                 `json:"workflow,omitempty"`
	Criteria      *Criteria              `json:"criteria,omitempty"`
	Conditions    map[string]interface{} `json:"conditions,omitempty"`
	Steps         []*Step                `json:"steps"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	FinalizedAt   *time.Time             `json:"finalizedAt,omitempty"`
}

// Step represents a single required approver action.
type Step struct {
	ID       string     `json:"id"`
	Role     string     `json:"role"`
	Order    int        `json:"order"`
	Parallel bool       `json:"parallel,omitempty"`
	Status   StepStatus `json:"status"`
	ActedBy  string     `json:"actedBy,omitempty"`
	ActedAt  *time.Time `json:"actedAt,omitempty"`
	Comment  string     `json:"comment,omitempty"`
}

// Clone returns a deep copy of the step.
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	ret := *s
	if s.ActedAt != nil {
		actedAt := *s.ActedAt
		ret.ActedAt = &actedAt
	}
	return &ret
}

// StepByID returns step with the given id or nil.
func (i *Instance) StepByID(id string) *Step {
	for _, step := range i.Steps {
		if step.ID == id {
			return step
		}
	}
	return nil
}

// PendingAt returns pending steps at the given order.
func (i *Instance) PendingAt(order int) []*Step {
	var ret []*Step
	for _, step := range i.Steps {
		if step.Order == order && step.Status == StepPending {
			ret = append(ret, step)
		}
	}
	return ret
}

// NextOrder returns the minimum order among pending steps, or 0 when none remain.
func (i *Instance) NextOrder() int {
	next := 0
	for _, step := range i.Steps {
		if step.Status != StepPending {
			continue
		}
		if next == 0 || step.Order < next {
			next = step.Order
		}
	}
	return next
}

// HasRejection returns true when any step was rejected.
func (i *Instance) HasRejection() bool {
	for _, step := range i.Steps {
		if step.Status == StepRejected {
			return true
		}
	}
	return false
}

// CanActRoles returns the distinct roles still pending in the current group.
func (i *Instance) CanActRoles() []string {
	if i.Status != StatusRequested {
		return nil
	}
	seen := map[string]bool{}
	var ret []string
	for _, step := range i.PendingAt(i.CurrentOrder) {
		if seen[step.Role] {
			continue
		}
		seen[step.Role] = true
		ret = append(ret, step.Role)
	}
	sort.Strings(ret)
	return ret
}

// SortSteps orders steps by order then id, the stable presentation order.
func (i *Instance) SortSteps() {
	sort.SliceStable(i.Steps, func(a, b int) bool {
		if i.Steps[a].Order != i.Steps[b].Order {
			return i.Steps[a].Order < i.Steps[b].Order
		}
		return i.Steps[a].ID < i.Steps[b].ID
	})
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	ret := *i
	ret.Criteria = i.Criteria.Clone()
	if i.Conditions != nil {
		ret.Conditions = make(map[string]interface{}, len(i.Conditions))
		for k, v := range i.Conditions {
			ret.Conditions[k] = v
		}
	}
	ret.Steps = make([]*Step, len(i.Steps))
	for k, step := range i.Steps {
		ret.Steps[k] = step.Clone()
	}
	if i.FinalizedAt != nil {
		finalizedAt := *i.FinalizedAt
		ret.FinalizedAt = &finalizedAt
	}
	return &ret
}
