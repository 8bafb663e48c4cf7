package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/approver/model"
)

func TestDispatcher_Dispatch(t *testing.T) {
	type testCase struct {
		name             string
		point            Point
		failing          map[string]bool
		panicking        string
		expectedCalls    []string
		expectedFailures []string
	}
	tests := []testCase{
		{name: "all succeed", point: AfterStepPersisted, expectedCalls: []string{"a", "b", "c"}},
		{name: "before action stops at veto", point: BeforeAction, failing: map[string]bool{"b": true}, expectedCalls: []string{"a", "b"}, expectedFailures: []string{"b"}},
		{name: "post commit runs all", point: AfterInstanceFinalized, failing: map[string]bool{"a": true, "c": true}, expectedCalls: []string{"a", "b", "c"}, expectedFailures: []string{"a", "c"}},
		{name: "panic isolated", point: AfterInstanceFinalized, panicking: "b", expectedCalls: []string{"a", "b", "c"}, expectedFailures: []string{"b"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dispatcher := NewDispatcher()
			var calls []string
			for _, name := range []string{"a", "b", "c"} {
				name := name
				dispatcher.Register(New(name, tc.point, func(ctx context.Context, event *Event) error {
					calls = append(calls, name)
					assert.Equal(t, tc.point, event.Point)
					if name == tc.panicking {
						panic("boom")
					}
					if tc.failing[name] {
						return errors.New(name + " failed")
					}
					return nil
				}))
			}
			dispatcher.Register(New("other", BeforeAction, func(ctx context.Context, event *Event) error {
				if tc.point != BeforeAction {
					t.Fatalf("hook of another point invoked")
				}
				return nil
			}))
			failures := dispatcher.Dispatch(context.Background(), tc.point, &Event{Snapshot: &model.Snapshot{TransactionID: "t1"}})

			if tc.point == BeforeAction && len(tc.expectedFailures) == 0 {
				tc.expectedCalls = append(tc.expectedCalls, "other")
			}
			assert.Equal(t, tc.expectedCalls, calls)
			var names []string
			for _, failure := range failures {
				names = append(names, failure.Hook)
				assert.True(t, errors.Is(failure, model.ErrHookFailure))
				assert.Equal(t, string(tc.point), failure.Point)
			}
			assert.Equal(t, tc.expectedFailures, names)
		})
	}
}

func TestDispatcher_SnapshotIsolation(t *testing.T) {
	dispatcher := NewDispatcher()
	dispatcher.Register(
		New("mutator", AfterStepPersisted, func(ctx context.Context, event *Event) error {
			event.Snapshot.Status = model.StatusApproved
			event.Snapshot.Steps[0].Status = model.StepRejected
			return nil
		}),
		New("observer", AfterStepPersisted, func(ctx context.Context, event *Event) error {
			assert.Equal(t, model.StatusRequested, event.Snapshot.Status)
			assert.Equal(t, model.StepApproved, event.Snapshot.Steps[0].Status)
			return nil
		}),
	)
	snapshot := &model.Snapshot{Status: model.StatusRequested, Steps: []*model.StepView{{ID: "s1", Status: model.StepApproved}}}
	failures := dispatcher.Dispatch(context.Background(), AfterStepPersisted, &Event{Snapshot: snapshot})
	require.Empty(t, failures)
	assert.Equal(t, model.StatusRequested, snapshot.Status)
}
