// Package daotest provides the behaviour suite every dao.Store implementation
// is expected to pass.
package daotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/approver/model"
	"github.com/viant/approver/service/dao"
)

var baseTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// NewInstance returns a Requested instance with a Manager/Compliance group at
// order 1 and a Director at order 2.
func NewInstance(instanceID, transactionID string) *model.Instance {
	return &model.Instance{
		ID:            instanceID,
		TransactionID: transactionID,
		Status:        model.StatusRequested,
		InitiatorID:   "alice",
		Version:       1,
		CurrentOrder:  1,
		Criteria:      &model.Criteria{Amount: 250000, Currency: "USD", TransactionType: "loan"},
		Conditions:    map[string]interface{}{"lienHold": true},
		Steps: []*model.Step{
			{ID: "s1", Role: "Manager", Order: 1, Parallel: true, Status: model.StepPending},
			{ID: "s2", Role: "Compliance", Order: 1, Parallel: true, Status: model.StepPending},
			{ID: "s3", Role: "Director", Order: 2, Status: model.StepPending},
		},
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

func entry(instance *model.Instance, actor string, actionType model.ActionType, stepID string) *model.HistoryEntry {
	return &model.HistoryEntry{
		ID:            fmt.Sprintf("%v-%v-%v", instance.ID, actionType, stepID),
		InstanceID:    instance.ID,
		TransactionID: instance.TransactionID,
		ActorID:       actor,
		ActionType:    actionType,
		StepID:        stepID,
		Timestamp:     baseTime,
	}
}

// Run executes the store behaviour suite; newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) dao.Store) {
	ctx := context.Background()

	t.Run("create and read", func(t *testing.T) {
		store := newStore(t)
		instance := NewInstance("i1", "t1")
		require.NoError(t, store.CreateInstance(ctx, instance, entry(instance, "alice", model.ActionTypeInitiated, "")))

		actual, history, err := store.ReadSnapshot(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "i1", actual.ID)
		assert.Equal(t, model.StatusRequested, actual.Status)
		assert.Equal(t, 1, actual.Version)
		assert.Equal(t, 1, actual.CurrentOrder)
		assert.Len(t, actual.Steps, 3)
		assert.Equal(t, true, actual.Conditions["lienHold"])
		require.Len(t, history, 1)
		assert.Equal(t, 1, history[0].Seq)
		assert.Equal(t, model.ActionTypeInitiated, history[0].ActionType)

		_, _, err = store.ReadSnapshot(ctx, "missing")
		assert.True(t, errors.Is(err, dao.ErrNotFound), err)
	})

	t.Run("single active instance", func(t *testing.T) {
		store := newStore(t)
		first := NewInstance("i1", "t1")
		require.NoError(t, store.CreateInstance(ctx, first, entry(first, "alice", model.ActionTypeInitiated, "")))
		second := NewInstance("i2", "t1")
		err := store.CreateInstance(ctx, second, entry(second, "alice", model.ActionTypeInitiated, ""))
		assert.True(t, errors.Is(err, dao.ErrDuplicate), err)

		require.NoError(t, store.ConditionalAdvanceInstance(ctx, "i1", 1, &dao.InstanceUpdate{Status: model.StatusCancelled, CancelPending: true, UpdatedAt: baseTime}))
		require.NoError(t, store.CreateInstance(ctx, second, entry(second, "alice", model.ActionTypeInitiated, "")))
		actual, _, err := store.ReadSnapshot(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "i2", actual.ID)
	})

	t.Run("conditional step update", func(t *testing.T) {
		store := newStore(t)
		instance := NewInstance("i1", "t1")
		require.NoError(t, store.CreateInstance(ctx, instance, entry(instance, "alice", model.ActionTypeInitiated, "")))

		update := &dao.StepUpdate{Status: model.StepApproved, ActedBy: "bob", ActedAt: baseTime.Add(time.Minute), Comment: "ok", History: entry(instance, "bob", model.ActionTypeApproved, "s1")}
		require.NoError(t, store.ConditionalUpdateStep(ctx, "i1", "s1", model.StepPending, update))
		err := store.ConditionalUpdateStep(ctx, "i1", "s1", model.StepPending, update)
		assert.True(t, errors.Is(err, dao.ErrStatusMismatch), err)
		err = store.ConditionalUpdateStep(ctx, "i1", "sX", model.StepPending, update)
		assert.True(t, errors.Is(err, dao.ErrNotFound), err)
		err = store.ConditionalUpdateStep(ctx, "iX", "s1", model.StepPending, update)
		assert.True(t, errors.Is(err, dao.ErrNotFound), err)

		actual, history, err := store.ReadSnapshot(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 2, actual.Version)
		step := actual.StepByID("s1")
		assert.Equal(t, model.StepApproved, step.Status)
		assert.Equal(t, "bob", step.ActedBy)
		assert.Equal(t, "ok", step.Comment)
		require.NotNil(t, step.ActedAt)
		assert.True(t, baseTime.Add(time.Minute).Equal(*step.ActedAt))
		require.Len(t, history, 2)
		assert.Equal(t, 2, history[1].Seq)
		assert.Equal(t, "s1", history[1].StepID)
	})

	t.Run("conditional advance", func(t *testing.T) {
		store := newStore(t)
		instance := NewInstance("i1", "t1")
		require.NoError(t, store.CreateInstance(ctx, instance, entry(instance, "alice", model.ActionTypeInitiated, "")))

		err := store.ConditionalAdvanceInstance(ctx, "i1", 7, &dao.InstanceUpdate{Status: model.StatusRequested, CurrentOrder: 2})
		assert.True(t, errors.Is(err, dao.ErrVersionMismatch), err)

		finalizedAt := baseTime.Add(time.Hour)
		update := &dao.InstanceUpdate{
			Status:        model.StatusRejected,
			CancelPending: true,
			FinalizedAt:   &finalizedAt,
			UpdatedAt:     finalizedAt,
			History:       []*model.HistoryEntry{entry(instance, "alice", model.ActionTypeCancelled, "")},
		}
		require.NoError(t, store.ConditionalAdvanceInstance(ctx, "i1", 1, update))
		actual, history, err := store.ReadSnapshot(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, actual.Status)
		assert.Equal(t, 2, actual.Version)
		require.NotNil(t, actual.FinalizedAt)
		assert.True(t, finalizedAt.Equal(*actual.FinalizedAt))
		for _, step := range actual.Steps {
			assert.Equal(t, model.StepCancelled, step.Status, step.ID)
		}
		require.Len(t, history, 2)
		assert.Equal(t, model.ActionTypeCancelled, history[1].ActionType)
	})

	t.Run("append history", func(t *testing.T) {
		store := newStore(t)
		instance := NewInstance("i1", "t1")
		require.NoError(t, store.CreateInstance(ctx, instance, entry(instance, "alice", model.ActionTypeInitiated, "")))
		hookFailed := entry(instance, "system", model.ActionTypeHookFailed, "")
		require.NoError(t, store.AppendHistory(ctx, hookFailed))
		assert.Equal(t, 2, hookFailed.Seq)

		orphan := entry(NewInstance("iX", "tX"), "system", model.ActionTypeHookFailed, "")
		assert.True(t, errors.Is(store.AppendHistory(ctx, orphan), dao.ErrNotFound))
	})

	t.Run("list by status", func(t *testing.T) {
		store := newStore(t)
		for i, tx := range []string{"t1", "t2", "t3"} {
			instance := NewInstance(fmt.Sprintf("i%d", i+1), tx)
			instance.CreatedAt = baseTime.Add(time.Duration(i) * time.Minute)
			require.NoError(t, store.CreateInstance(ctx, instance, entry(instance, "alice", model.ActionTypeInitiated, "")))
		}
		require.NoError(t, store.ConditionalAdvanceInstance(ctx, "i2", 1, &dao.InstanceUpdate{Status: model.StatusCancelled, CancelPending: true}))

		all, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		requested, err := store.List(ctx, dao.NewParameter(dao.StatusParameter, string(model.StatusRequested)))
		require.NoError(t, err)
		require.Len(t, requested, 2)
		assert.Equal(t, "t1", requested[0].TransactionID)
		assert.Equal(t, "t3", requested[1].TransactionID)
	})

	t.Run("concurrent step updates", func(t *testing.T) {
		store := newStore(t)
		instance := NewInstance("i1", "t1")
		require.NoError(t, store.CreateInstance(ctx, instance, entry(instance, "alice", model.ActionTypeInitiated, "")))

		const workers = 8
		var wg sync.WaitGroup
		var mux sync.Mutex
		succeeded := 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(actor string) {
				defer wg.Done()
				update := &dao.StepUpdate{Status: model.StepApproved, ActedBy: actor, ActedAt: baseTime, History: entry(instance, actor, model.ActionTypeApproved, "s1")}
				if err := store.ConditionalUpdateStep(ctx, "i1", "s1", model.StepPending, update); err == nil {
					mux.Lock()
					succeeded++
					mux.Unlock()
				}
			}(fmt.Sprintf("approver-%d", i))
		}
		wg.Wait()
		assert.Equal(t, 1, succeeded)
		_, history, err := store.ReadSnapshot(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})
}
