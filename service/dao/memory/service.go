package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/viant/approver/model"
	"github.com/viant/approver/service/dao"
	"github.com/viant/approver/service/dao/criteria"
)

// Service implements an in-memory approval store. All operations are
// thread-safe and return **copies** of the underlying objects to prevent data
// races when callers mutate the returned instances.
type Service struct {
	instances map[string]*model.Instance
	history   map[string][]*model.HistoryEntry
	latest    map[string]string // transaction id -> instance id
	mux       sync.RWMutex
}

// Compile-time check that Service implements the store contract.
var _ dao.Store = (*Service)(nil)

// CreateInstance persists (a clone of) the supplied instance.
func (s *Service) CreateInstance(_ context.Context, instance *model.Instance, entry *model.HistoryEntry) error {
	if instance == nil {
		return dao.ErrNilEntity
	}
	if instance.ID == "" || instance.TransactionID == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if _, ok := s.instances[instance.ID]; ok {
		return fmt.Errorf("instance %v: %w", instance.ID, dao.ErrDuplicate)
	}
	if id, ok := s.latest[instance.TransactionID]; ok && s.instances[id].Status == model.StatusRequested {
		return fmt.Errorf("transaction %v: %w", instance.TransactionID, dao.ErrDuplicate)
	}
	s.instances[instance.ID] = instance.Clone()
	s.latest[instance.TransactionID] = instance.ID
	s.history[instance.ID] = dao.AppendEntries(nil, entry)
	return nil
}

// ConditionalUpdateStep moves a step out of the expected status.
func (s *Service) ConditionalUpdateStep(_ context.Context, instanceID, stepID string, expected model.StepStatus, update *dao.StepUpdate) error {
	if instanceID == "" || stepID == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	instance, ok := s.instances[instanceID]
	if !ok {
		return dao.ErrNotFound
	}
	// mutate a copy so a failed check leaves stored state untouched
	candidate := instance.Clone()
	if err := dao.UpdateStep(candidate, stepID, expected, update); err != nil {
		return err
	}
	s.instances[instanceID] = candidate
	s.history[instanceID] = dao.AppendEntries(s.history[instanceID], update.History)
	return nil
}

// ConditionalAdvanceInstance applies update when the stored version matches.
func (s *Service) ConditionalAdvanceInstance(_ context.Context, instanceID string, expectedVersion int, update *dao.InstanceUpdate) error {
	if instanceID == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	instance, ok := s.instances[instanceID]
	if !ok {
		return dao.ErrNotFound
	}
	candidate := instance.Clone()
	if err := dao.AdvanceInstance(candidate, expectedVersion, update); err != nil {
		return err
	}
	s.instances[instanceID] = candidate
	s.history[instanceID] = dao.AppendEntries(s.history[instanceID], update.History...)
	return nil
}

// AppendHistory appends an audit entry.
func (s *Service) AppendHistory(_ context.Context, entry *model.HistoryEntry) error {
	if entry == nil {
		return dao.ErrNilEntity
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if _, ok := s.instances[entry.InstanceID]; !ok {
		return dao.ErrNotFound
	}
	s.history[entry.InstanceID] = dao.AppendEntries(s.history[entry.InstanceID], entry)
	return nil
}

// ReadSnapshot returns copies of the latest instance and its history.
func (s *Service) ReadSnapshot(_ context.Context, transactionID string) (*model.Instance, []*model.HistoryEntry, error) {
	if transactionID == "" {
		return nil, nil, dao.ErrInvalidID
	}

	s.mux.RLock()
	defer s.mux.RUnlock()

	id, ok := s.latest[transactionID]
	if !ok {
		return nil, nil, dao.ErrNotFound
	}
	return s.instances[id].Clone(), dao.CloneHistory(s.history[id]), nil
}

// List returns copies of the latest instance of every transaction ordered by
// creation time.
func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*model.Instance, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	out := make([]*model.Instance, 0, len(s.latest))
	for _, id := range s.latest {
		instance := s.instances[id]
		if !criteria.FilterByStatus(string(instance.Status), parameters) {
			continue
		}
		out = append(out, instance.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out, nil
}

// New constructor.
func New() *Service {
	return &Service{
		instances: map[string]*model.Instance{},
		history:   map[string][]*model.HistoryEntry{},
		latest:    map[string]string{},
	}
}
