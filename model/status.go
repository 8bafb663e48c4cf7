package model

// Status represents workflow instance status.
type Status string

const (
	StatusRequested Status = "Requested"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
	StatusCancelled Status = "Cancelled"
)

// IsTerminal returns true for Approved, Rejected and Cancelled.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// StepStatus represents approval step status.
type StepStatus string

const (
	StepPending   StepStatus = "Pending"
	StepApproved  StepStatus = "Approved"
	StepRejected  StepStatus = "Rejected"
	StepCancelled StepStatus = "Cancelled"
)

// IsTerminal returns true once a step left Pending.
func (s StepStatus) IsTerminal() bool {
	return s != StepPending && s != ""
}

// Action represents an approver or initiator intent.
type Action string

const (
	ActionApprove Action = "Approve"
	ActionReject  Action = "Reject"
	ActionCancel  Action = "Cancel"
)

// StepStatus returns the step status an action produces.
func (a Action) StepStatus() StepStatus {
	switch a {
	case ActionApprove:
		return StepApproved
	case ActionReject:
		return StepRejected
	case ActionCancel:
		return StepCancelled
	}
	return ""
}

// IsValid returns true for actions accepted by ProcessAction.
func (a Action) IsValid() bool {
	return a == ActionApprove || a == ActionReject
}

// ActionType is the audit history action type.
type ActionType string

const (
	ActionTypeInitiated  ActionType = "Initiated"
	ActionTypeApproved   ActionType = "Approved"
	ActionTypeRejected   ActionType = "Rejected"
	ActionTypeCancelled  ActionType = "Cancelled"
	ActionTypeHookFailed ActionType = "HookFailed"
)

// ActionType maps an action to its history entry type.
func (a Action) ActionType() ActionType {
	switch a {
	case ActionApprove:
		return ActionTypeApproved
	case ActionReject:
		return ActionTypeRejected
	case ActionCancel:
		return ActionTypeCancelled
	}
	return ""
}
