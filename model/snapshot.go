package model

// StepView is the caller-facing step representation.
type StepView struct {
	ID      string     `json:"id"`
	Role    string     `json:"role"`
	Order   int        `json:"order"`
	Status  StepStatus `json:"status"`
	ActedBy string     `json:"actedBy,omitempty"`
}

// Snapshot is the immutable read model of an instance.
type Snapshot struct {
	TransactionID string                 `json:"transactionId"`
	InstanceID    string                 `json:"instanceId"`
	Status        Status                 `json:"status"`
	Version       int                    `json:"version"`
	InitiatorID   string                 `json:"initiatorId"`
	CurrentOrder  int                    `json:"currentOrder,omitempty"`
	Conditions    map[string]interface{} `json:"conditions,omitempty"`
	Steps         []*StepView            `json:"steps"`
	History       []*HistoryEntry        `json:"history"`
	CanActRoles   []string               `json:"canActRoles,omitempty"`
}

// NewSnapshot builds a snapshot from copies of the supplied state.
func NewSnapshot(instance *Instance, history []*HistoryEntry) *Snapshot {
	if instance == nil {
		return nil
	}
	ret := &Snapshot{
		TransactionID: instance.TransactionID,
		InstanceID:    instance.ID,
		Status:        instance.Status,
		Version:       instance.Version,
		InitiatorID:   instance.InitiatorID,
		CanActRoles:   instance.CanActRoles(),
		Steps:         make([]*StepView, 0, len(instance.Steps)),
		History:       make([]*HistoryEntry, 0, len(history)),
	}
	if instance.Status == StatusRequested {
		ret.CurrentOrder = instance.CurrentOrder
	}
	if len(instance.Conditions) > 0 {
		ret.Conditions = make(map[string]interface{}, len(instance.Conditions))
		for k, v := range instance.Conditions {
			ret.Conditions[k] = v
		}
	}
	for _, step := range instance.Steps {
		ret.Steps = append(ret.Steps, &StepView{ID: step.ID, Role: step.Role, Order: step.Order, Status: step.Status, ActedBy: step.ActedBy})
	}
	for _, entry := range history {
		ret.History = append(ret.History, entry.Clone())
	}
	return ret
}

// Step returns step view by id or nil.
func (s *Snapshot) Step(id string) *StepView {
	for _, step := range s.Steps {
		if step.ID == id {
			return step
		}
	}
	return nil
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	ret := *s
	if s.Conditions != nil {
		ret.Conditions = make(map[string]interface{}, len(s.Conditions))
		for k, v := range s.Conditions {
			ret.Conditions[k] = v
		}
	}
	ret.Steps = make([]*StepView, 0, len(s.Steps))
	for _, step := range s.Steps {
		view := *step
		ret.Steps = append(ret.Steps, &view)
	}
	ret.History = make([]*HistoryEntry, 0, len(s.History))
	for _, entry := range s.History {
		ret.History = append(ret.History, entry.Clone())
	}
	ret.CanActRoles = append([]string(nil), s.CanActRoles...)
	return &ret
}
