// Package messaging defines the queue abstraction used to deliver approval
// lifecycle notifications to out-of-band consumers.
package messaging

import (
	"context"
)

// Vendor names a queue implementation.
type Vendor string

const (
	// VendorMemory keeps messages in process.
	VendorMemory Vendor = "memory"
	// VendorFs persists messages as files through afs, so any afs backend
	// (local disk, mem://, object storage) can act as an outbox.
	VendorFs Vendor = "fs"
)

// Queue represents a typed message queue.
type Queue[T any] interface {
	// Publish enqueues a copy of t.
	Publish(ctx context.Context, t *T) error

	// Consume blocks until a message is available or ctx is done.
	Consume(ctx context.Context) (Message[T], error)
}

// Message represents a consumed message. Exactly one of Ack or Nack may be
// called.
type Message[T any] interface {
	// T returns the payload.
	T() *T

	// Ack removes the message from the queue.
	Ack() error

	// Nack returns the message for redelivery, or dead-letters it once the
	// retry budget is spent.
	Nack(err error) error
}

// ErrProcessed is returned by a second Ack or Nack.
var ErrProcessed = errProcessed("message already processed")

type errProcessed string

func (e errProcessed) Error() string { return string(e) }
