package model

import "time"

// HistoryEntry is an append-only audit record. Seq reflects commit order
// within an instance.
type HistoryEntry struct {
	ID            string     `json:"id"`
	Seq           int        `json:"seq"`
	InstanceID    string     `json:"instanceId"`
	TransactionID string     `json:"transactionId"`
	ActorID       string     `json:"actorId"`
	ActionType    ActionType `json:"actionType"`
	StepID        string     `json:"stepId,omitempty"`
	Comment       string     `json:"comment,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Clone returns a copy of the entry.
func (h *HistoryEntry) Clone() *HistoryEntry {
	if h == nil {
		return nil
	}
	ret := *h
	return &ret
}
