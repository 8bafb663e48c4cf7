package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/viant/approver/tracing"
)

// Handler processes a delivered event; an error nacks the message.
type Handler[T any] func(ctx context.Context, event *Event[T]) error

type Listener[T any] struct {
	publisher *Publisher[T]
	handler   Handler[T]
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      sync.WaitGroup
}

func NewListener[T any](publisher *Publisher[T], handler Handler[T], logger *slog.Logger) *Listener[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener[T]{
		publisher: publisher,
		handler:   handler,
		logger:    logger,
	}
}

// Stop cancels consumption and waits for the in-flight handler.
func (l *Listener[T]) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.done.Wait()
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done.Add(1)
	go func() {
		defer l.done.Done()
		for {
			message, err := l.publisher.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				l.logger.Warn("failed to consume event", "error", err)
				continue
			}
			if message == nil {
				continue
			}
			if err = l.handle(ctx, message.T()); err != nil {
				l.logger.Warn("event handler failed", "error", err)
				if nackErr := message.Nack(err); nackErr != nil {
					l.logger.Error("failed to nack event", "error", nackErr)
				}
				continue
			}
			if err = message.Ack(); err != nil {
				l.logger.Error("failed to ack event", "error", err)
			}
		}
	}()
}

func (l *Listener[T]) handle(ctx context.Context, event *Event[T]) (err error) {
	ctx, span := tracing.StartSpan(ctx, "event.Handle", tracing.KindConsumer)
	defer func() { tracing.EndSpan(span, err) }()
	if event.Context != nil {
		span.WithAttributes(map[string]string{"eventType": event.Context.EventType, "transactionId": event.Context.TransactionID})
	}
	return l.handler(ctx, event)
}
