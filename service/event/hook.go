package event

import (
	"context"
	"time"

	"github.com/viant/approver/model"
	"github.com/viant/approver/service/hook"
	"github.com/viant/approver/tracing"
)

// EventType values of lifecycle events.
const (
	TypeStepPersisted     = "approval.step"
	TypeInstanceFinalized = "approval.finalized"
)

// PublishTimeout bounds how long a hook waits for queue capacity.
var PublishTimeout = 5 * time.Second

// NewHooks returns hooks publishing Lifecycle events at the supplied points;
// with no points only finalization is published. BeforeAction is ignored.
func NewHooks(publisher *Publisher[Lifecycle], points ...hook.Point) []hook.Hook {
	if len(points) == 0 {
		points = []hook.Point{hook.AfterInstanceFinalized}
	}
	var ret []hook.Hook
	for _, point := range points {
		if !point.IsPostCommit() {
			continue
		}
		eventType := TypeInstanceFinalized
		if point == hook.AfterStepPersisted {
			eventType = TypeStepPersisted
		}
		ret = append(ret, hook.New("event:"+eventType, point, func(ctx context.Context, e *hook.Event) (err error) {
			ctx, span := tracing.StartSpan(ctx, "event.Publish", tracing.KindProducer)
			defer func() { tracing.EndSpan(span, err) }()
			ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
			defer cancel()
			lifecycle := NewLifecycleEvent(eventType, e)
			span.WithAttributes(map[string]string{"eventType": eventType, "transactionId": lifecycle.Context.TransactionID})
			return publisher.Publish(ctx, lifecycle)
		}))
	}
	return ret
}

// NewLifecycleEvent converts a hook event into a lifecycle event.
func NewLifecycleEvent(eventType string, e *hook.Event) *Event[Lifecycle] {
	snapshot := e.Snapshot
	if snapshot == nil {
		snapshot = &model.Snapshot{}
	}
	data := Lifecycle{
		TransactionID: snapshot.TransactionID,
		InstanceID:    snapshot.InstanceID,
		Status:        snapshot.Status,
		Version:       snapshot.Version,
		Action:        e.Action,
		StepID:        e.StepID,
		ActorID:       e.ActorID,
		InitiatorID:   snapshot.InitiatorID,
		CurrentOrder:  snapshot.CurrentOrder,
		Conditions:    snapshot.Conditions,
	}
	return NewEvent(&Context{
		TransactionID: snapshot.TransactionID,
		InstanceID:    snapshot.InstanceID,
		EventType:     eventType,
		Service:       "approver",
	}, data)
}
