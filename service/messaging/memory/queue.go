package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/viant/approver/service/messaging"
)

// Config controls redelivery of nacked messages.
type Config struct {
	MaxRetries  int
	RetryDelay  time.Duration
	DeadLetter  bool
	QueueBuffer int
}

func DefaultConfig() Config {
	return Config{MaxRetries: 3, RetryDelay: 100 * time.Millisecond, DeadLetter: true, QueueBuffer: 256}
}

// Message is one delivery attempt of a payload.
type Message[T any] struct {
	id       string
	payload  T
	attempts int
	cause    error
	queue    *Queue[T]
	settled  atomic.Bool
}

// ID is stable across redeliveries.
func (m *Message[T]) ID() string { return m.id }

// Attempts counts failed deliveries so far.
func (m *Message[T]) Attempts() int { return m.attempts }

func (m *Message[T]) T() *T { return &m.payload }

// Err returns the failure reported by the previous attempt.
func (m *Message[T]) Err() error { return m.cause }

// Ack settles the delivery.
func (m *Message[T]) Ack() error {
	if !m.settled.CompareAndSwap(false, true) {
		return messaging.ErrProcessed
	}
	return nil
}

// Nack settles the delivery and redelivers the payload after RetryDelay
// until MaxRetries is exceeded; the payload is then dead-lettered.
func (m *Message[T]) Nack(err error) error {
	if !m.settled.CompareAndSwap(false, true) {
		return messaging.ErrProcessed
	}
	next := &Message[T]{id: m.id, payload: m.payload, attempts: m.attempts + 1, cause: err, queue: m.queue}
	if next.attempts > m.queue.config.MaxRetries {
		if m.queue.config.DeadLetter {
			m.queue.bury(next)
		}
		return nil
	}
	time.AfterFunc(m.queue.config.RetryDelay, func() { m.queue.requeue(next) })
	return nil
}

// Queue is a bounded channel backed messaging.Queue.
type Queue[T any] struct {
	config      Config
	pending     chan *Message[T]
	mu          sync.Mutex
	deadLetters []*Message[T]
}

func NewQueue[T any](config Config) *Queue[T] {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}
	return &Queue[T]{config: config, pending: make(chan *Message[T], config.QueueBuffer)}
}

// Publish enqueues a copy of t, blocking while the buffer is full.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.pending <- &Message[T]{id: uuid.New().String(), payload: *t, queue: q}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume blocks until a message arrives or ctx is done.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case message := <-q.pending:
		return message, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the number of undelivered messages.
func (q *Queue[T]) Size() int {
	return len(q.pending)
}

// DeadLetters returns the payloads that exhausted redelivery.
func (q *Queue[T]) DeadLetters() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	ret := make([]T, 0, len(q.deadLetters))
	for _, message := range q.deadLetters {
		ret = append(ret, message.payload)
	}
	return ret
}

func (q *Queue[T]) requeue(message *Message[T]) {
	select {
	case q.pending <- message:
	default:
		q.bury(message)
	}
}

func (q *Queue[T]) bury(message *Message[T]) {
	q.mu.Lock()
	q.deadLetters = append(q.deadLetters, message)
	q.mu.Unlock()
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
