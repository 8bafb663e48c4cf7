package event

import (
	"time"

	"github.com/viant/approver/model"
)

// Context carries routing information of an event.
type Context struct {
	TransactionID string `json:"transactionId"`
	InstanceID    string `json:"instanceId"`
	EventType     string `json:"eventType"`
	Service       string `json:"service,omitempty"`
}

// Event wraps a payload for delivery through a queue.
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Data      T                      `json:"data"`
}

func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}

// Lifecycle is the notification payload published when an approval instance
// changes state. Document and notification consumers subscribe to it.
type Lifecycle struct {
	TransactionID string                 `json:"transactionId"`
	InstanceID    string                 `json:"instanceId"`
	Status        model.Status           `json:"status"`
	Version       int                    `json:"version"`
	Action        model.Action           `json:"action,omitempty"`
	StepID        string                 `json:"stepId,omitempty"`
	ActorID       string                 `json:"actorId,omitempty"`
	InitiatorID   string                 `json:"initiatorId"`
	CurrentOrder  int                    `json:"currentOrder,omitempty"`
	Conditions    map[string]interface{} `json:"conditions,omitempty"`
}
