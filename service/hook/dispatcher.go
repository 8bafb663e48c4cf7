package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/viant/approver/model"
)

// Dispatcher invokes hooks in registration order.
type Dispatcher struct {
	hooks  map[Point][]Hook
	logger *slog.Logger
	mux    sync.RWMutex
}

// Register appends hooks.
func (d *Dispatcher) Register(hooks ...Hook) {
	d.mux.Lock()
	defer d.mux.Unlock()
	for _, h := range hooks {
		if h == nil {
			continue
		}
		d.hooks[h.Point()] = append(d.hooks[h.Point()], h)
	}
}

// Hooks returns hooks registered for point.
func (d *Dispatcher) Hooks(point Point) []Hook {
	d.mux.RLock()
	defer d.mux.RUnlock()
	return append([]Hook(nil), d.hooks[point]...)
}

// Dispatch invokes hooks registered for point. BeforeAction stops at the
// first failure; post-commit points run every hook and collect failures.
// Panics are reported as failures.
func (d *Dispatcher) Dispatch(ctx context.Context, point Point, event *Event) []*model.HookFailure {
	var failures []*model.HookFailure
	for _, h := range d.Hooks(point) {
		invocation := *event
		invocation.Point = point
		invocation.Snapshot = event.Snapshot.Clone()
		err := invoke(ctx, h, &invocation)
		if err == nil {
			continue
		}
		failure := &model.HookFailure{Hook: h.Name(), Point: string(point), Err: err}
		failures = append(failures, failure)
		if !point.IsPostCommit() {
			d.logger.Debug("hook vetoed action", "hook", h.Name(), "point", point, "stepId", event.StepID, "error", err)
			break
		}
		transactionID := ""
		if event.Snapshot != nil {
			transactionID = event.Snapshot.TransactionID
		}
		d.logger.Warn("hook failed", "hook", h.Name(), "point", point, "transactionId", transactionID, "error", err)
	}
	return failures
}

func invoke(ctx context.Context, h Hook, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Invoke(ctx, event)
}

// Option customises the dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(options ...Option) *Dispatcher {
	ret := &Dispatcher{hooks: map[Point][]Hook{}, logger: slog.Default()}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}
