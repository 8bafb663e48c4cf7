package dao

import (
	"fmt"

	"github.com/viant/approver/model"
)

// UpdateStep applies a conditional step update to an in-memory instance.
// Stores that load and save whole documents share it.
func UpdateStep(instance *model.Instance, stepID string, expected model.StepStatus, update *StepUpdate) error {
	if update == nil {
		return ErrNilEntity
	}
	step := instance.StepByID(stepID)
	if step == nil {
		return fmt.Errorf("step %v: %w", stepID, ErrNotFound)
	}
	if step.Status != expected {
		return fmt.Errorf("step %v is %v, expected %v: %w", stepID, step.Status, expected, ErrStatusMismatch)
	}
	step.Status = update.Status
	step.ActedBy = update.ActedBy
	actedAt := update.ActedAt
	step.ActedAt = &actedAt
	step.Comment = update.Comment
	instance.UpdatedAt = update.ActedAt
	instance.Version++
	return nil
}

// AdvanceInstance applies a conditional instance update to an in-memory
// instance.
func AdvanceInstance(instance *model.Instance, expectedVersion int, update *InstanceUpdate) error {
	if update == nil {
		return ErrNilEntity
	}
	if instance.Version != expectedVersion {
		return fmt.Errorf("instance %v at version %v, expected %v: %w", instance.ID, instance.Version, expectedVersion, ErrVersionMismatch)
	}
	if update.Status != "" {
		instance.Status = update.Status
	}
	instance.CurrentOrder = update.CurrentOrder
	if update.CancelPending {
		for _, step := range instance.Steps {
			if step.Status == model.StepPending {
				step.Status = model.StepCancelled
			}
		}
	}
	if update.FinalizedAt != nil {
		finalizedAt := *update.FinalizedAt
		instance.FinalizedAt = &finalizedAt
	}
	instance.UpdatedAt = update.UpdatedAt
	instance.Version++
	return nil
}

// AppendEntries appends copies of entries assigning consecutive sequence
// numbers. The assigned Seq is also set on the supplied entries.
func AppendEntries(history []*model.HistoryEntry, entries ...*model.HistoryEntry) []*model.HistoryEntry {
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		entry.Seq = len(history) + 1
		history = append(history, entry.Clone())
	}
	return history
}

// CloneHistory returns copies of the supplied entries.
func CloneHistory(history []*model.HistoryEntry) []*model.HistoryEntry {
	ret := make([]*model.HistoryEntry, 0, len(history))
	for _, entry := range history {
		ret = append(ret, entry.Clone())
	}
	return ret
}
