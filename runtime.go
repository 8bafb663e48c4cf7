package approver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viant/approver/model"
	"github.com/viant/approver/runtime/orchestrator"
	"github.com/viant/approver/service/approval"
	"github.com/viant/approver/service/event"
	"github.com/viant/approver/service/resolver/rule"
)

// Version is reported as the tracing service version.
const Version = "0.1.0"

// Runtime groups the long running parts of the service: rule hot swap,
// lifecycle listeners and automated approvers.
type Runtime struct {
	orchestrator *orchestrator.Service
	rules        *rule.Service
	events       *event.Service
	logger       *slog.Logger
	mux          sync.Mutex
	stops        []func()
}

// RefreshRules reloads approval rules from their source URL.
func (r *Runtime) RefreshRules(ctx context.Context) error {
	if r == nil || r.rules == nil {
		return fmt.Errorf("runtime has no rule resolver")
	}
	return r.rules.Reload(ctx)
}

// UpsertRules replaces the rule set with the supplied YAML document. It
// affects only instances initiated afterwards.
func (r *Runtime) UpsertRules(data []byte) error {
	if r == nil || r.rules == nil {
		return fmt.Errorf("runtime has no rule resolver")
	}
	return r.rules.Upsert(data)
}

// Rules returns the active rules.
func (r *Runtime) Rules() []*rule.Rule {
	if r == nil || r.rules == nil {
		return nil
	}
	return r.rules.Rules()
}

// OnLifecycle consumes lifecycle events, replacing a previous handler.
func (r *Runtime) OnLifecycle(ctx context.Context, handler event.Handler[event.Lifecycle]) error {
	if r.events == nil {
		return fmt.Errorf("events are not enabled")
	}
	return event.SetListenerOf[event.Lifecycle](ctx, r.events, handler)
}

// StartAutoDecider runs an automated approver for actor until Shutdown.
func (r *Runtime) StartAutoDecider(ctx context.Context, actor *model.Actor, fn approval.DecisionFunc, interval time.Duration) {
	stop := approval.AutoDecider(ctx, r.orchestrator, actor, fn, interval, r.logger)
	r.mux.Lock()
	r.stops = append(r.stops, stop)
	r.mux.Unlock()
}

// Shutdown stops automated approvers.
func (r *Runtime) Shutdown(_ context.Context) error {
	r.mux.Lock()
	stops := r.stops
	r.stops = nil
	r.mux.Unlock()
	for _, stop := range stops {
		stop()
	}
	return nil
}
