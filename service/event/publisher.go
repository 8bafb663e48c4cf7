package event

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/viant/approver/service/messaging"
)

type Publisher[T any] struct {
	queue    messaging.Queue[Event[T]]
	anyQueue messaging.Queue[Event[any]]
	mirror   *atomic.Bool
}

func NewPublisher[T any](queue messaging.Queue[Event[T]]) *Publisher[T] {
	return &Publisher[T]{
		queue: queue,
	}
}

// Publish enqueues event. A publisher obtained from a Service also mirrors
// the event to the untyped queue once a service-wide listener is set.
func (p *Publisher[T]) Publish(ctx context.Context, event *Event[T]) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := p.queue.Publish(ctx, event); err != nil {
		return err
	}
	if p.anyQueue != nil && p.mirror.Load() {
		return p.anyQueue.Publish(ctx, &Event[any]{
			Context:   event.Context,
			CreatedAt: event.CreatedAt,
			Metadata:  event.Metadata,
			Data:      event.Data,
		})
	}
	return nil
}

// Consume returns the next message; the caller acks or nacks it.
func (p *Publisher[T]) Consume(ctx context.Context) (messaging.Message[Event[T]], error) {
	return p.queue.Consume(ctx)
}
