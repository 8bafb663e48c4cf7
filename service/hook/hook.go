// Package hook dispatches extension callbacks at fixed points of the approval
// state machine.
package hook

import (
	"context"

	"github.com/viant/approver/model"
)

// Point identifies where in the state machine a hook runs.
type Point string

const (
	// BeforeAction runs before any write; a failure vetoes the action.
	BeforeAction Point = "BeforeAction"
	// AfterStepPersisted runs after a step write commits and before any
	// instance status write.
	AfterStepPersisted Point = "AfterStepPersisted"
	// AfterInstanceFinalized runs after a terminal status commits.
	AfterInstanceFinalized Point = "AfterInstanceFinalized"
)

// IsPostCommit returns true for points that run after persistence.
func (p Point) IsPostCommit() bool {
	return p == AfterStepPersisted || p == AfterInstanceFinalized
}

// Event is passed to hooks. Snapshot is a private copy per hook.
type Event struct {
	Point    Point
	Action   model.Action
	ActorID  string
	StepID   string
	Comment  string
	Snapshot *model.Snapshot
}

// Hook represents a registered extension callback.
type Hook interface {
	Name() string
	Point() Point
	Invoke(ctx context.Context, event *Event) error
}

type funcHook struct {
	name  string
	point Point
	fn    func(ctx context.Context, event *Event) error
}

func (h *funcHook) Name() string {
	return h.name
}

func (h *funcHook) Point() Point {
	return h.point
}

func (h *funcHook) Invoke(ctx context.Context, event *Event) error {
	return h.fn(ctx, event)
}

// New adapts fn to a Hook.
func New(name string, point Point, fn func(ctx context.Context, event *Event) error) Hook {
	return &funcHook{name: name, point: point, fn: fn}
}
