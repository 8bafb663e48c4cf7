package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/viant/approver/internal/clock"
	"github.com/viant/approver/internal/idgen"
	"github.com/viant/approver/internal/logging"
	"github.com/viant/approver/model"
	"github.com/viant/approver/policy"
	"github.com/viant/approver/service/dao"
	"github.com/viant/approver/service/dao/memory"
	"github.com/viant/approver/service/hook"
	"github.com/viant/approver/service/resolver"
)

var (
	alice = model.NewActor("alice", "Manager")
	bob   = model.NewActor("bob", "Manager")
	carol = model.NewActor("carol", "Compliance")
	dave  = model.NewActor("dave", "Director")
)

func loanConfig() *model.WorkflowConfig {
	return &model.WorkflowConfig{
		Name: "loan-large",
		Steps: []*model.StepTemplate{
			{Role: "Manager", Order: 1, IsParallel: true},
			{Role: "Compliance", Order: 1, IsParallel: true},
			{Role: "Director", Order: 2},
		},
		Conditions: map[string]interface{}{"lienHold": true},
	}
}

func loanCriteria() *model.Criteria {
	return &model.Criteria{Amount: 250000, Currency: "USD", TransactionType: "loan"}
}

// interceptStore wraps a store to observe and disturb conditional writes.
type interceptStore struct {
	dao.Store
	advances    atomic.Int32
	failAdvance atomic.Bool
	afterStep   func()
	once        sync.Once
}

func (s *interceptStore) ConditionalUpdateStep(ctx context.Context, instanceID, stepID string, expected model.StepStatus, update *dao.StepUpdate) error {
	if err := s.Store.ConditionalUpdateStep(ctx, instanceID, stepID, expected, update); err != nil {
		return err
	}
	if s.afterStep != nil {
		s.once.Do(s.afterStep)
	}
	return nil
}

func (s *interceptStore) ConditionalAdvanceInstance(ctx context.Context, instanceID string, expectedVersion int, update *dao.InstanceUpdate) error {
	if s.failAdvance.Load() {
		return fmt.Errorf("forced: %w", dao.ErrVersionMismatch)
	}
	err := s.Store.ConditionalAdvanceInstance(ctx, instanceID, expectedVersion, update)
	if err == nil && update.Status != model.StatusCancelled {
		s.advances.Add(1)
	}
	return err
}

func newTestService(store dao.Store, config *model.WorkflowConfig, options ...Option) *Service {
	options = append([]Option{
		WithClock(clock.NewManual(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), time.Second)),
		WithIDGenerator(idgen.Sequence("id-")),
		WithLogger(logging.Discard()),
	}, options...)
	return New(store, resolver.NewStatic(config), options...)
}

func approve(t *testing.T, srv *Service, txID, stepID string, actor *model.Actor) *Result {
	t.Helper()
	result, err := srv.ProcessAction(context.Background(), &ActionRequest{TransactionID: txID, StepID: stepID, Actor: actor, Action: model.ActionApprove})
	require.NoError(t, err)
	return result
}

func historyTypes(snapshot *model.Snapshot) []model.ActionType {
	var ret []model.ActionType
	for _, entry := range snapshot.History {
		ret = append(ret, entry.ActionType)
	}
	return ret
}

func TestService_Initiate(t *testing.T) {
	var testCases = []struct {
		description   string
		transactionID string
		initiatorID   string
		criteria      *model.Criteria
		config        *model.WorkflowConfig
		expectKind    model.Kind
	}{
		{description: "creates instance", transactionID: "tx-1", initiatorID: "alice", criteria: loanCriteria(), config: loanConfig()},
		{description: "missing transaction", initiatorID: "alice", criteria: loanCriteria(), config: loanConfig(), expectKind: model.KindInvalidRequest},
		{description: "missing initiator", transactionID: "tx-1", criteria: loanCriteria(), config: loanConfig(), expectKind: model.KindInvalidRequest},
		{description: "invalid criteria", transactionID: "tx-1", initiatorID: "alice", criteria: &model.Criteria{Amount: 10}, config: loanConfig(), expectKind: model.KindInvalidRequest},
		{description: "no configuration", transactionID: "tx-1", initiatorID: "alice", criteria: loanCriteria(), config: nil, expectKind: model.KindConfigurationNotFound},
		{description: "invalid configuration", transactionID: "tx-1", initiatorID: "alice", criteria: loanCriteria(), config: &model.WorkflowConfig{Steps: []*model.StepTemplate{{Role: "Manager"}}}, expectKind: model.KindConfigurationNotFound},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			srv := newTestService(memory.New(), testCase.config)
			result, err := srv.Initiate(context.Background(), testCase.transactionID, testCase.initiatorID, testCase.criteria)
			if testCase.expectKind != "" {
				require.Error(t, err)
				kind, ok := model.KindOf(err)
				require.True(t, ok)
				assert.Equal(t, testCase.expectKind, kind)
				return
			}
			require.NoError(t, err)
			snapshot := result.Snapshot
			assert.Equal(t, model.StatusRequested, snapshot.Status)
			assert.Equal(t, 1, snapshot.Version)
			assert.Equal(t, 1, snapshot.CurrentOrder)
			assert.Equal(t, []string{"Compliance", "Manager"}, snapshot.CanActRoles)
			assert.Equal(t, map[string]interface{}{"lienHold": true}, snapshot.Conditions)
			require.Len(t, snapshot.Steps, 3)
			assert.Equal(t, "compliance-1", snapshot.Steps[0].ID)
			assert.Equal(t, "manager-1", snapshot.Steps[1].ID)
			assert.Equal(t, "director-2", snapshot.Steps[2].ID)
			for _, step := range snapshot.Steps {
				assert.Equal(t, model.StepPending, step.Status)
			}
			assert.Equal(t, []model.ActionType{model.ActionTypeInitiated}, historyTypes(snapshot))
			assert.Equal(t, 1, snapshot.History[0].Seq)
		})
	}
}

func TestService_Initiate_SingleActiveInstance(t *testing.T) {
	ctx := context.Background()
	srv := newTestService(memory.New(), loanConfig())
	first, err := srv.Initiate(ctx, "tx-1", "alice", loanCriteria())
	require.NoError(t, err)

	_, err = srv.Initiate(ctx, "tx-1", "alice", loanCriteria())
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = srv.Cancel(ctx, "tx-1", "alice")
	require.NoError(t, err)
	second, err := srv.Initiate(ctx, "tx-1", "alice", loanCriteria())
	require.NoError(t, err)
	assert.NotEqual(t, first.Snapshot.InstanceID, second.Snapshot.InstanceID)

	snapshot, err := srv.Snapshot(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, second.Snapshot.InstanceID, snapshot.InstanceID)
}

func TestService_Initiate_Concurrent(t *testing.T) {
	srv := newTestService(memory.New(), loanConfig(), WithIDGenerator(idgen.UUID))
	var created, rejected atomic.Int32
	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 10; i++ {
		group.Go(func() error {
			_, err := srv.Initiate(ctx, "tx-1", "alice", loanCriteria())
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, model.ErrInvalidRequest):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	assert.EqualValues(t, 1, created.Load())
	assert.EqualValues(t, 9, rejected.Load())
}

func TestService_ScenarioA_FullApproval(t *testing.T) {
	ctx := context.Background()
	var finalized []*hook.Event
	srv := newTestService(memory.New(), loanConfig(), WithHooks(hook.New("collect", hook.AfterInstanceFinalized, func(ctx context.Context, event *hook.Event) error {
		finalized = append(finalized, event)
		return nil
	})))
	_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
	require.NoError(t, err)

	result := approve(t, srv, "tx-1", "manager-1", alice)
	assert.Equal(t, "pending peer roles: Compliance", result.Message)
	assert.Equal(t, 1, result.Snapshot.CurrentOrder)
	assert.False(t, result.Finalized)

	result = approve(t, srv, "tx-1", "compliance-1", carol)
	assert.Equal(t, "advanced to order 2", result.Message)
	assert.Equal(t, 2, result.Snapshot.CurrentOrder)
	assert.Equal(t, []string{"Director"}, result.Snapshot.CanActRoles)

	result = approve(t, srv, "tx-1", "director-2", dave)
	assert.Equal(t, "approved", result.Message)
	assert.True(t, result.Finalized)
	assert.Equal(t, model.StatusApproved, result.Snapshot.Status)
	assert.Empty(t, result.Snapshot.CanActRoles)
	assert.Equal(t, []model.ActionType{model.ActionTypeInitiated, model.ActionTypeApproved, model.ActionTypeApproved, model.ActionTypeApproved}, historyTypes(result.Snapshot))
	for i, entry := range result.Snapshot.History {
		assert.Equal(t, i+1, entry.Seq)
	}

	require.Len(t, finalized, 1)
	assert.Equal(t, "dave", finalized[0].ActorID)
	assert.Equal(t, model.StatusApproved, finalized[0].Snapshot.Status)
}

func TestService_ScenarioB_Rejection(t *testing.T) {
	ctx := context.Background()
	srv := newTestService(memory.New(), loanConfig())
	_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
	require.NoError(t, err)

	result, err := srv.ProcessAction(ctx, &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: alice, Action: model.ActionReject, Comment: "collateral missing"})
	require.NoError(t, err)
	assert.Equal(t, "rejected", result.Message)
	assert.True(t, result.Finalized)
	assert.Equal(t, model.StatusRejected, result.Snapshot.Status)
	assert.Equal(t, model.StepRejected, result.Snapshot.Step("manager-1").Status)
	assert.Equal(t, model.StepCancelled, result.Snapshot.Step("compliance-1").Status)
	assert.Equal(t, model.StepCancelled, result.Snapshot.Step("director-2").Status)
	assert.Equal(t, "collateral missing", result.Snapshot.History[1].Comment)

	_, err = srv.ProcessAction(ctx, &ActionRequest{TransactionID: "tx-1", StepID: "compliance-1", Actor: carol, Action: model.ActionApprove})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestService_ScenarioC_Cancellation(t *testing.T) {
	ctx := context.Background()
	srv := newTestService(memory.New(), loanConfig())
	_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
	require.NoError(t, err)
	approve(t, srv, "tx-1", "manager-1", alice)

	result, err := srv.Cancel(ctx, "tx-1", "erin")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", result.Message)
	assert.True(t, result.Finalized)
	assert.Equal(t, model.StatusCancelled, result.Snapshot.Status)
	assert.Equal(t, model.StepApproved, result.Snapshot.Step("manager-1").Status)
	assert.Equal(t, model.StepCancelled, result.Snapshot.Step("compliance-1").Status)
	assert.Equal(t, model.StepCancelled, result.Snapshot.Step("director-2").Status)
	assert.Equal(t, model.ActionTypeCancelled, result.Snapshot.History[len(result.Snapshot.History)-1].ActionType)

	_, err = srv.ProcessAction(ctx, &ActionRequest{TransactionID: "tx-1", StepID: "compliance-1", Actor: carol, Action: model.ActionApprove})
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestService_ScenarioC_CancelWinsSettle(t *testing.T) {
	ctx := context.Background()
	store := &interceptStore{Store: memory.New()}
	config := &model.WorkflowConfig{Steps: []*model.StepTemplate{{Role: "Manager", Order: 1}, {Role: "Director", Order: 2}}}
	srv := newTestService(store, config)
	_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
	require.NoError(t, err)

	var cancelErr error
	store.afterStep = func() {
		_, cancelErr = srv.Cancel(ctx, "tx-1", "erin")
	}
	result := approve(t, srv, "tx-1", "manager-1", alice)
	require.NoError(t, cancelErr)
	assert.Equal(t, model.StatusCancelled, result.Snapshot.Status)
	assert.False(t, result.Finalized)
	assert.Equal(t, "cancelled", result.Message)
	assert.Equal(t, model.StepApproved, result.Snapshot.Step("manager-1").Status)
	assert.Equal(t, model.StepCancelled, result.Snapshot.Step("director-2").Status)
	assert.EqualValues(t, 1, store.advances.Load())
}

func TestService_ScenarioC_DecisionWinsCancel(t *testing.T) {
	var testCases = []struct {
		description  string
		config       *model.WorkflowConfig
		action       model.Action
		expectStatus model.Status
		expectSteps  map[string]model.StepStatus
	}{
		{
			description:  "last approval",
			config:       &model.WorkflowConfig{Steps: []*model.StepTemplate{{Role: "Manager", Order: 1}}},
			action:       model.ActionApprove,
			expectStatus: model.StatusApproved,
			expectSteps:  map[string]model.StepStatus{"manager-1": model.StepApproved},
		},
		{
			description:  "rejection",
			config:       &model.WorkflowConfig{Steps: []*model.StepTemplate{{Role: "Manager", Order: 1}, {Role: "Director", Order: 2}}},
			action:       model.ActionReject,
			expectStatus: model.StatusRejected,
			expectSteps:  map[string]model.StepStatus{"manager-1": model.StepRejected, "director-2": model.StepCancelled},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			ctx := context.Background()
			store := &interceptStore{Store: memory.New()}
			var finalized []*hook.Event
			srv := newTestService(store, testCase.config, WithHooks(hook.New("record", hook.AfterInstanceFinalized, func(ctx context.Context, event *hook.Event) error {
				finalized = append(finalized, event)
				return nil
			})))
			_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
			require.NoError(t, err)

			var cancelErr error
			store.afterStep = func() {
				_, cancelErr = srv.Cancel(ctx, "tx-1", "erin")
			}
			result, err := srv.ProcessAction(ctx, &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: alice, Action: testCase.action})
			require.NoError(t, err)
			assert.ErrorIs(t, cancelErr, model.ErrConflict)
			assert.Equal(t, testCase.expectStatus, result.Snapshot.Status)
			assert.False(t, result.Finalized)

			snapshot, err := srv.Snapshot(ctx, "tx-1")
			require.NoError(t, err)
			assert.Equal(t, testCase.expectStatus, snapshot.Status)
			for stepID, status := range testCase.expectSteps {
				assert.Equal(t, status, snapshot.Step(stepID).Status, stepID)
			}
			assert.NotContains(t, historyTypes(snapshot), model.ActionTypeCancelled)
			require.Len(t, finalized, 1)
			assert.Equal(t, "alice", finalized[0].ActorID)
			assert.Equal(t, "manager-1", finalized[0].StepID)
			assert.Equal(t, testCase.action, finalized[0].Action)
			assert.Equal(t, testCase.expectStatus, finalized[0].Snapshot.Status)
		})
	}
}

func TestService_ProcessAction_Errors(t *testing.T) {
	initiator := model.NewActor("erin", "Manager", "Compliance")
	var testCases = []struct {
		description string
		request     *ActionRequest
		prepare     func(t *testing.T, srv *Service)
		expect      error
		idempotent  bool
	}{
		{description: "nil request", expect: model.ErrInvalidRequest},
		{description: "unsupported action", request: &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: alice, Action: model.ActionCancel}, expect: model.ErrInvalidRequest},
		{description: "unknown transaction", request: &ActionRequest{TransactionID: "tx-9", StepID: "manager-1", Actor: alice, Action: model.ActionApprove}, expect: model.ErrNotFound},
		{description: "unknown step", request: &ActionRequest{TransactionID: "tx-1", StepID: "clerk-1", Actor: alice, Action: model.ActionApprove}, expect: model.ErrNotFound},
		{description: "missing role", request: &ActionRequest{TransactionID: "tx-1", StepID: "compliance-1", Actor: alice, Action: model.ActionApprove}, expect: model.ErrUnauthorized},
		{description: "future order", request: &ActionRequest{TransactionID: "tx-1", StepID: "director-2", Actor: dave, Action: model.ActionApprove}, expect: model.ErrUnauthorized},
		{description: "self approval", request: &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: initiator, Action: model.ActionApprove}, expect: model.ErrSelfApprovalForbidden},
		{
			description: "idempotent retry",
			request:     &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: alice, Action: model.ActionApprove},
			prepare:     func(t *testing.T, srv *Service) { approve(t, srv, "tx-1", "manager-1", alice) },
			idempotent:  true,
		},
		{
			description: "acted by peer",
			request:     &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: bob, Action: model.ActionApprove},
			prepare:     func(t *testing.T, srv *Service) { approve(t, srv, "tx-1", "manager-1", alice) },
			expect:      model.ErrConflict,
		},
		{
			description: "opposite action",
			request:     &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: alice, Action: model.ActionReject},
			prepare:     func(t *testing.T, srv *Service) { approve(t, srv, "tx-1", "manager-1", alice) },
			expect:      model.ErrConflict,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			ctx := context.Background()
			srv := newTestService(memory.New(), loanConfig())
			_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
			require.NoError(t, err)
			if testCase.prepare != nil {
				testCase.prepare(t, srv)
			}
			before, err := srv.Snapshot(ctx, "tx-1")
			require.NoError(t, err)

			result, err := srv.ProcessAction(ctx, testCase.request)
			if testCase.expect != nil {
				assert.ErrorIs(t, err, testCase.expect)
				after, err := srv.Snapshot(ctx, "tx-1")
				require.NoError(t, err)
				assert.Equal(t, before, after)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.idempotent, result.Idempotent)
			assert.Equal(t, before.Version, result.Snapshot.Version)
		})
	}
}

func TestService_ProcessAction_SelfApprovalPolicy(t *testing.T) {
	ctx := context.Background()
	initiator := model.NewActor("erin", "Manager")
	srv := newTestService(memory.New(), loanConfig())
	_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
	require.NoError(t, err)

	request := &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: initiator, Action: model.ActionApprove}
	_, err = srv.ProcessAction(ctx, request)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	allowed := policy.WithPolicy(ctx, &policy.Policy{Mode: policy.ModeAllow})
	result, err := srv.ProcessAction(allowed, request)
	require.NoError(t, err)
	assert.Equal(t, model.StepApproved, result.Snapshot.Step("manager-1").Status)
}

func TestService_ProcessAction_BeforeActionVeto(t *testing.T) {
	ctx := context.Background()
	veto := errors.New("limit exceeded")
	srv := newTestService(memory.New(), loanConfig(), WithHooks(hook.New("limits", hook.BeforeAction, func(ctx context.Context, event *hook.Event) error {
		if event.StepID == "manager-1" {
			return veto
		}
		return nil
	})))
	_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
	require.NoError(t, err)

	_, err = srv.ProcessAction(ctx, &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: alice, Action: model.ActionApprove})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
	assert.ErrorIs(t, err, veto)

	snapshot, err := srv.Snapshot(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Version)
	assert.Equal(t, model.StepPending, snapshot.Step("manager-1").Status)
	assert.Len(t, snapshot.History, 1)

	result := approve(t, srv, "tx-1", "compliance-1", carol)
	assert.False(t, result.Partial())
}

func TestService_ProcessAction_PostCommitHookFailure(t *testing.T) {
	ctx := context.Background()
	srv := newTestService(memory.New(), loanConfig(),
		WithHooks(
			hook.New("notify", hook.AfterInstanceFinalized, func(ctx context.Context, event *hook.Event) error {
				return errors.New("smtp unavailable")
			}),
			hook.New("index", hook.AfterStepPersisted, func(ctx context.Context, event *hook.Event) error {
				panic("index corrupted")
			}),
		))
	_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
	require.NoError(t, err)

	result, err := srv.ProcessAction(ctx, &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: alice, Action: model.ActionReject})
	require.NoError(t, err)
	assert.True(t, result.Partial())
	require.Len(t, result.HookFailures, 2)
	assert.Equal(t, "index", result.HookFailures[0].Hook)
	assert.Equal(t, "notify", result.HookFailures[1].Hook)
	assert.Equal(t, model.StatusRejected, result.Snapshot.Status)

	snapshot, err := srv.Snapshot(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, snapshot.Status)
	assert.Equal(t, []model.ActionType{model.ActionTypeInitiated, model.ActionTypeRejected, model.ActionTypeHookFailed, model.ActionTypeHookFailed}, historyTypes(snapshot))
}

func TestService_HookOrdering(t *testing.T) {
	ctx := context.Background()
	type observation struct {
		stepID       string
		stepStatus   model.StepStatus
		status       model.Status
		currentOrder int
	}
	var srv *Service
	var persisted []observation
	var finalized []model.Status
	srv = newTestService(memory.New(), loanConfig(), WithHooks(
		hook.New("step", hook.AfterStepPersisted, func(ctx context.Context, event *hook.Event) error {
			stored, err := srv.Snapshot(ctx, "tx-1")
			if err != nil {
				return err
			}
			persisted = append(persisted, observation{
				stepID:       event.StepID,
				stepStatus:   stored.Step(event.StepID).Status,
				status:       stored.Status,
				currentOrder: stored.CurrentOrder,
			})
			return nil
		}),
		hook.New("final", hook.AfterInstanceFinalized, func(ctx context.Context, event *hook.Event) error {
			stored, err := srv.Snapshot(ctx, "tx-1")
			if err != nil {
				return err
			}
			finalized = append(finalized, stored.Status, event.Snapshot.Status)
			return nil
		}),
	))
	_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
	require.NoError(t, err)

	approve(t, srv, "tx-1", "manager-1", alice)
	approve(t, srv, "tx-1", "compliance-1", carol)
	require.Empty(t, finalized)
	result := approve(t, srv, "tx-1", "director-2", dave)
	assert.Empty(t, result.HookFailures)

	assert.Equal(t, []observation{
		{stepID: "manager-1", stepStatus: model.StepApproved, status: model.StatusRequested, currentOrder: 1},
		{stepID: "compliance-1", stepStatus: model.StepApproved, status: model.StatusRequested, currentOrder: 1},
		{stepID: "director-2", stepStatus: model.StepApproved, status: model.StatusRequested, currentOrder: 2},
	}, persisted)
	assert.Equal(t, []model.Status{model.StatusApproved, model.StatusApproved}, finalized)
}

func TestService_ExactlyOnceGroupAdvance(t *testing.T) {
	roles := []string{"Manager", "Compliance", "Risk", "Legal", "Treasury"}
	config := &model.WorkflowConfig{Steps: []*model.StepTemplate{{Role: "Director", Order: 2}}}
	for _, role := range roles {
		config.Steps = append(config.Steps, &model.StepTemplate{Role: role, Order: 1, IsParallel: true})
	}

	for round := 0; round < 25; round++ {
		store := &interceptStore{Store: memory.New()}
		srv := New(store, resolver.NewStatic(config), WithLogger(logging.Discard()), WithRetries(10))
		txID := fmt.Sprintf("tx-%d", round)
		_, err := srv.Initiate(context.Background(), txID, "erin", loanCriteria())
		require.NoError(t, err)

		var advanced atomic.Int32
		group, ctx := errgroup.WithContext(context.Background())
		for i, role := range roles {
			actor := model.NewActor(fmt.Sprintf("user-%d", i), role)
			stepID := fmt.Sprintf("%s-1", strings.ToLower(role))
			group.Go(func() error {
				result, err := srv.ProcessAction(ctx, &ActionRequest{TransactionID: txID, StepID: stepID, Actor: actor, Action: model.ActionApprove})
				if err != nil {
					return err
				}
				if result.Message == "advanced to order 2" {
					advanced.Add(1)
				}
				return nil
			})
		}
		require.NoError(t, group.Wait())
		assert.EqualValues(t, 1, store.advances.Load())

		snapshot, err := srv.Snapshot(context.Background(), txID)
		require.NoError(t, err)
		assert.Equal(t, 2, snapshot.CurrentOrder)
		assert.Equal(t, model.StatusRequested, snapshot.Status)
		assert.Len(t, snapshot.History, len(roles)+1)
		assert.GreaterOrEqual(t, advanced.Load(), int32(1))
	}
}

func TestService_ConcurrentSameStep(t *testing.T) {
	for round := 0; round < 25; round++ {
		srv := New(memory.New(), resolver.NewStatic(loanConfig()), WithLogger(logging.Discard()))
		_, err := srv.Initiate(context.Background(), "tx-1", "erin", loanCriteria())
		require.NoError(t, err)

		results := make([]*Result, 3)
		errs := make([]error, 3)
		actors := []*model.Actor{alice, bob, alice}
		var wg sync.WaitGroup
		for i := range actors {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = srv.ProcessAction(context.Background(), &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: actors[i], Action: model.ActionApprove})
			}(i)
		}
		wg.Wait()

		snapshot, err := srv.Snapshot(context.Background(), "tx-1")
		require.NoError(t, err)
		winner := snapshot.Step("manager-1").ActedBy
		assert.Len(t, snapshot.History, 2)
		fresh := 0
		for i, actor := range actors {
			if actor.ID != winner {
				assert.ErrorIs(t, errs[i], model.ErrConflict)
				continue
			}
			require.NoError(t, errs[i])
			if !results[i].Idempotent {
				fresh++
			}
		}
		assert.Equal(t, 1, fresh)
	}
}

func TestService_SettleExhaustionHeals(t *testing.T) {
	ctx := context.Background()
	store := &interceptStore{Store: memory.New()}
	var finalized atomic.Int32
	srv := newTestService(store, loanConfig(), WithRetries(3), WithHooks(hook.New("count", hook.AfterInstanceFinalized, func(ctx context.Context, event *hook.Event) error {
		finalized.Add(1)
		return nil
	})))
	_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
	require.NoError(t, err)
	approve(t, srv, "tx-1", "manager-1", alice)

	store.failAdvance.Store(true)
	_, err = srv.ProcessAction(ctx, &ActionRequest{TransactionID: "tx-1", StepID: "compliance-1", Actor: carol, Action: model.ActionApprove})
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.EqualError(t, err, "ProcessAction: Conflict: retries exhausted: dao: version mismatch")

	snapshot, err := srv.Snapshot(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepApproved, snapshot.Step("compliance-1").Status)
	assert.Equal(t, 1, snapshot.CurrentOrder)

	pending, err := srv.Pending(ctx, dave)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].CurrentOrder)
	assert.Equal(t, []string{"Director"}, pending[0].CanActRoles)
	assert.EqualValues(t, 0, store.advances.Load())

	store.failAdvance.Store(false)
	result := approve(t, srv, "tx-1", "director-2", dave)
	assert.True(t, result.Finalized)
	assert.Equal(t, model.StatusApproved, result.Snapshot.Status)
	assert.EqualValues(t, 2, store.advances.Load())
	assert.EqualValues(t, 1, finalized.Load())
}

func TestService_Cancel(t *testing.T) {
	var testCases = []struct {
		description   string
		transactionID string
		actorID       string
		prepare       func(t *testing.T, srv *Service)
		expect        error
	}{
		{description: "initiator cancels", transactionID: "tx-1", actorID: "erin"},
		{description: "empty actor", transactionID: "tx-1", expect: model.ErrInvalidRequest},
		{description: "unknown transaction", transactionID: "tx-9", actorID: "erin", expect: model.ErrNotFound},
		{description: "not initiator", transactionID: "tx-1", actorID: "alice", expect: model.ErrUnauthorized},
		{
			description:   "already finalized",
			transactionID: "tx-1",
			actorID:       "erin",
			prepare: func(t *testing.T, srv *Service) {
				_, err := srv.ProcessAction(context.Background(), &ActionRequest{TransactionID: "tx-1", StepID: "manager-1", Actor: alice, Action: model.ActionReject})
				require.NoError(t, err)
			},
			expect: model.ErrConflict,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			ctx := context.Background()
			var events []*hook.Event
			srv := newTestService(memory.New(), loanConfig(), WithHooks(hook.New("collect", hook.AfterInstanceFinalized, func(ctx context.Context, event *hook.Event) error {
				events = append(events, event)
				return nil
			})))
			_, err := srv.Initiate(ctx, "tx-1", "erin", loanCriteria())
			require.NoError(t, err)
			if testCase.prepare != nil {
				testCase.prepare(t, srv)
				events = nil
			}
			result, err := srv.Cancel(ctx, testCase.transactionID, testCase.actorID)
			if testCase.expect != nil {
				assert.ErrorIs(t, err, testCase.expect)
				assert.Empty(t, events)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.StatusCancelled, result.Snapshot.Status)
			require.Len(t, events, 1)
			assert.Equal(t, model.ActionCancel, events[0].Action)
		})
	}
}

func TestService_Pending(t *testing.T) {
	ctx := context.Background()
	srv := newTestService(memory.New(), loanConfig())
	for _, txID := range []string{"tx-2", "tx-1", "tx-3"} {
		_, err := srv.Initiate(ctx, txID, "erin", loanCriteria())
		require.NoError(t, err)
	}
	approve(t, srv, "tx-1", "manager-1", alice)
	approve(t, srv, "tx-1", "compliance-1", carol)
	_, err := srv.Cancel(ctx, "tx-3", "erin")
	require.NoError(t, err)

	var testCases = []struct {
		description string
		actor       *model.Actor
		expect      []string
	}{
		{description: "manager", actor: bob, expect: []string{"tx-2"}},
		{description: "director", actor: dave, expect: []string{"tx-1"}},
		{description: "initiator", actor: model.NewActor("erin", "Manager"), expect: nil},
		{description: "no roles", actor: model.NewActor("frank"), expect: nil},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			snapshots, err := srv.Pending(ctx, testCase.actor)
			require.NoError(t, err)
			var actual []string
			for _, snapshot := range snapshots {
				actual = append(actual, snapshot.TransactionID)
				assert.Empty(t, snapshot.History)
			}
			assert.Equal(t, testCase.expect, actual)
		})
	}

	_, err = srv.Pending(ctx, nil)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestWithValidator(t *testing.T) {
	ctx := context.Background()
	srv := newTestService(memory.New(), loanConfig(), WithValidator(nil))
	_, err := srv.Initiate(ctx, "tx-1", "erin", &model.Criteria{Amount: 10})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	srv = newTestService(memory.New(), loanConfig(), WithValidator(func(ctx context.Context, criteria *model.Criteria) error {
		return nil
	}))
	_, err = srv.Initiate(ctx, "tx-1", "erin", &model.Criteria{Amount: 10})
	assert.NoError(t, err)
}

func TestService_Snapshot(t *testing.T) {
	srv := newTestService(memory.New(), loanConfig())
	_, err := srv.Snapshot(context.Background(), "tx-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = srv.Snapshot(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}
