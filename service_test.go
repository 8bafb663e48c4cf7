package approver_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"github.com/viant/approver"
	"github.com/viant/approver/internal/logging"
	"github.com/viant/approver/model"
	"github.com/viant/approver/policy"
	"github.com/viant/approver/service/approval"
	"github.com/viant/approver/service/event"
	"github.com/viant/approver/service/resolver"
)

const rulesYAML = `
rules:
  - name: large-loan
    minAmount: 100000
    transactionTypes: [loan]
    steps:
      - role: Manager
        order: 1
        parallel: true
      - role: Compliance
        order: 1
        parallel: true
      - role: Director
        order: 2
    conditions:
      lienHold: true
`

func uploadRules(t *testing.T, data string) string {
	URL := "mem://localhost/approver/" + strings.ReplaceAll(t.Name(), "/", "_") + "/rules.yaml"
	require.NoError(t, afs.New().Upload(context.Background(), URL, file.DefaultFileOsMode, strings.NewReader(data)))
	return URL
}

func loan() *model.Criteria {
	return &model.Criteria{Amount: 250000, Currency: "USD", TransactionType: "loan"}
}

func TestConfig_Validate(t *testing.T) {
	var testCases = []struct {
		description string
		mutate      func(c *approver.Config)
		expectErr   string
	}{
		{description: "valid", mutate: func(c *approver.Config) {}},
		{description: "retries", mutate: func(c *approver.Config) { c.Orchestrator.MaxRetries = 0 }, expectErr: "maxRetries"},
		{description: "fs store", mutate: func(c *approver.Config) { c.Store.Kind = approver.StoreFs }, expectErr: "store.baseURL"},
		{description: "mysql store", mutate: func(c *approver.Config) { c.Store.Kind = approver.StoreMySQL }, expectErr: "store.dsn"},
		{description: "mysql secret", mutate: func(c *approver.Config) {
			c.Store.Kind = approver.StoreMySQL
			c.Store.SecretURL = "mem://localhost/secret/db.json"
		}},
		{description: "unknown store", mutate: func(c *approver.Config) { c.Store.Kind = "mongo" }, expectErr: "store.kind"},
		{description: "rules", mutate: func(c *approver.Config) { c.Resolver.RulesURL = "" }, expectErr: "rulesURL"},
		{description: "policy", mutate: func(c *approver.Config) { c.Policy = &policy.Config{Mode: "sometimes"} }, expectErr: "unsupported mode"},
		{description: "events", mutate: func(c *approver.Config) {
			c.Events.Enabled = true
			c.Events.Vendor = "fs"
		}, expectErr: "events.baseURL"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			config := approver.DefaultConfig()
			config.Resolver.RulesURL = "mem://localhost/rules.yaml"
			testCase.mutate(config)
			err := config.Validate()
			if testCase.expectErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), testCase.expectErr)
		})
	}
}

func TestNew_RequiresResolver(t *testing.T) {
	_, err := approver.New()
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()
	config := approver.DefaultConfig()
	config.Resolver.RulesURL = uploadRules(t, rulesYAML)
	config.Store = approver.StoreConfig{Kind: approver.StoreFs, BaseURL: "mem://localhost/approver/" + t.Name() + "/store"}
	config.Events = approver.EventsConfig{Enabled: true, Vendor: "memory"}
	config.Log.Level = "error"

	srv, err := approver.NewFromConfig(ctx, config)
	require.NoError(t, err)
	defer func() { assert.NoError(t, srv.Close(ctx)) }()

	events := make(chan event.Lifecycle, 4)
	require.NoError(t, srv.Runtime().OnLifecycle(ctx, func(ctx context.Context, e *event.Event[event.Lifecycle]) error {
		events <- e.Data
		return nil
	}))

	result, err := srv.Initiate(ctx, "tx-1", "erin", loan())
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"lienHold": true}, result.Snapshot.Conditions)

	_, err = srv.Approve(ctx, "tx-1", "manager-1", model.NewActor("alice", "Manager"), "")
	require.NoError(t, err)
	_, err = srv.Approve(ctx, "tx-1", "compliance-1", model.NewActor("carol", "Compliance"), "")
	require.NoError(t, err)
	pending, err := srv.Pending(ctx, model.NewActor("dave", "Director"))
	require.NoError(t, err)
	require.Len(t, pending, 1)

	result, err = srv.Reject(ctx, "tx-1", "director-2", model.NewActor("dave", "Director"), "exposure too high")
	require.NoError(t, err)
	assert.True(t, result.Finalized)

	select {
	case lifecycle := <-events:
		assert.Equal(t, "tx-1", lifecycle.TransactionID)
		assert.Equal(t, model.StatusRejected, lifecycle.Status)
		assert.Equal(t, "dave", lifecycle.ActorID)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle event was not delivered")
	}

	snapshot, err := srv.Snapshot(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, snapshot.Status)
	assert.Len(t, snapshot.History, 4)

	_, err = srv.Initiate(ctx, "tx-2", "erin", &model.Criteria{Amount: 10, Currency: "USD", TransactionType: "payment"})
	assert.ErrorIs(t, err, model.ErrConfigurationNotFound)
}

func TestRuntime_UpsertRules(t *testing.T) {
	ctx := context.Background()
	config := approver.DefaultConfig()
	config.Resolver.RulesURL = uploadRules(t, rulesYAML)
	config.Log.Level = "error"
	srv, err := approver.NewFromConfig(ctx, config)
	require.NoError(t, err)
	defer srv.Close(ctx)

	_, err = srv.Initiate(ctx, "tx-1", "erin", loan())
	require.NoError(t, err)

	require.NoError(t, srv.Runtime().UpsertRules([]byte(`
rules:
  - name: single
    steps:
      - role: Treasury
        order: 1
`)))
	require.Len(t, srv.Runtime().Rules(), 1)
	assert.Equal(t, "single", srv.Runtime().Rules()[0].Name)

	result, err := srv.Initiate(ctx, "tx-2", "erin", loan())
	require.NoError(t, err)
	require.Len(t, result.Snapshot.Steps, 1)
	assert.Equal(t, "treasury-1", result.Snapshot.Steps[0].ID)

	existing, err := srv.Snapshot(ctx, "tx-1")
	require.NoError(t, err)
	assert.Len(t, existing.Steps, 3)

	require.NoError(t, srv.Runtime().RefreshRules(ctx))
	assert.Equal(t, "large-loan", srv.Runtime().Rules()[0].Name)
}

func TestRuntime_AutoDecider(t *testing.T) {
	ctx := context.Background()
	config := &model.WorkflowConfig{Steps: []*model.StepTemplate{{Role: "Treasury", Order: 1}}}
	srv, err := approver.New(approver.WithResolver(resolver.NewStatic(config)), approver.WithLogger(logging.Discard()))
	require.NoError(t, err)
	assert.Error(t, srv.Runtime().RefreshRules(ctx))
	assert.Error(t, srv.Runtime().OnLifecycle(ctx, nil))

	_, err = srv.Initiate(ctx, "tx-1", "erin", loan())
	require.NoError(t, err)
	srv.Runtime().StartAutoDecider(ctx, model.NewActor("treasury-bot", "Treasury"), func(*model.Snapshot, *model.StepView) *approval.Decision {
		return &approval.Decision{Action: model.ActionApprove, Comment: "within limits"}
	}, time.Millisecond)

	assert.Eventually(t, func() bool {
		snapshot, err := srv.Snapshot(ctx, "tx-1")
		return err == nil && snapshot.Status == model.StatusApproved
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, srv.Close(ctx))
}
