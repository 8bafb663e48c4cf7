package dao

import (
	"context"
	"time"

	"github.com/viant/approver/model"
)

// Store persists approval instances, steps and history. Implementations must
// make every conditional operation atomic; the orchestrator relies on them
// for all cross-call serialization.
type Store interface {
	// CreateInstance stores a new Requested instance together with its
	// initiation history entry. It returns ErrDuplicate when a Requested
	// instance already exists for the transaction.
	CreateInstance(ctx context.Context, instance *model.Instance, entry *model.HistoryEntry) error

	// ConditionalUpdateStep moves a step out of the expected status. The
	// instance version is bumped and update.History is appended in the same
	// atomic write. It returns ErrStatusMismatch when the stored step status
	// differs from expected.
	ConditionalUpdateStep(ctx context.Context, instanceID, stepID string, expected model.StepStatus, update *StepUpdate) error

	// ConditionalAdvanceInstance applies update when the stored version equals
	// expectedVersion, otherwise it returns ErrVersionMismatch.
	ConditionalAdvanceInstance(ctx context.Context, instanceID string, expectedVersion int, update *InstanceUpdate) error

	// AppendHistory appends an audit entry assigning its sequence number.
	AppendHistory(ctx context.Context, entry *model.HistoryEntry) error

	// ReadSnapshot returns the latest instance for the transaction with its
	// history in commit order.
	ReadSnapshot(ctx context.Context, transactionID string) (*model.Instance, []*model.HistoryEntry, error)

	// List returns the latest instances, optionally filtered by Status.
	List(ctx context.Context, parameters ...*Parameter) ([]*model.Instance, error)
}

// StepUpdate represents a step transition out of Pending.
type StepUpdate struct {
	Status  model.StepStatus
	ActedBy string
	ActedAt time.Time
	Comment string
	History *model.HistoryEntry
}

// InstanceUpdate represents an instance advance or terminal transition.
type InstanceUpdate struct {
	Status        model.Status
	CurrentOrder  int
	CancelPending bool
	FinalizedAt   *time.Time
	UpdatedAt     time.Time
	History       []*model.HistoryEntry
}
