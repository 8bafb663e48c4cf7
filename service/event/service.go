// Package event publishes approval lifecycle events to typed queues and runs
// listeners that consume them.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/viant/afs"
	"github.com/viant/approver/service/messaging"
	"github.com/viant/approver/service/messaging/fs"
	"github.com/viant/approver/service/messaging/memory"
)

type Service struct {
	publisher         *Publisher[any]
	listener          *Listener[any]
	mirror            atomic.Bool
	typedPublishers   map[reflect.Type]any
	typedListener     map[reflect.Type]any
	mux               *sync.RWMutex
	queueVendor       messaging.Vendor
	fs                afs.Service
	logger            *slog.Logger
	fsNewQueueConfig  func(name string) fs.Config
	memNewQueueConfig func(name string) memory.Config
}

// SetListener consumes every event published through the service.
func (s *Service) SetListener(ctx context.Context, handler Handler[any]) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.listener != nil {
		s.listener.Stop()
	}
	s.listener = NewListener[any](s.publisher, handler, s.logger)
	s.listener.Start(ctx)
	s.mirror.Store(true)
}

// Close stops all listeners.
func (s *Service) Close() {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.listener != nil {
		s.listener.Stop()
		s.listener = nil
		s.mirror.Store(false)
	}
	for key, listener := range s.typedListener {
		listener.(interface{ Stop() }).Stop()
		delete(s.typedListener, key)
	}
}

func New(queueVendor messaging.Vendor, opts ...Option) (*Service, error) {
	ret := &Service{
		queueVendor:     queueVendor,
		typedPublishers: make(map[reflect.Type]any),
		typedListener:   make(map[reflect.Type]any),
		mux:             &sync.RWMutex{},
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(ret)
	}

	switch queueVendor {
	case messaging.VendorFs:
		if ret.fsNewQueueConfig == nil {
			return nil, fmt.Errorf("fs queue vendor requires fsNewQueueConfig")
		}
		if ret.fs == nil {
			ret.fs = afs.New()
		}
	case messaging.VendorMemory:
		if ret.memNewQueueConfig == nil {
			ret.memNewQueueConfig = func(string) memory.Config { return memory.DefaultConfig() }
		}
	default:
		return nil, fmt.Errorf("unsupported queue vendor: %s", queueVendor)
	}

	queue, err := QueueOf[Event[any]](ret, "any")
	if err != nil {
		return nil, err
	}
	ret.publisher = NewPublisher[any](queue)
	return ret, nil
}

func QueueOf[T any](s *Service, name string) (messaging.Queue[T], error) {
	switch s.queueVendor {
	case messaging.VendorFs:
		return fs.NewQueue[T](s.fs, s.fsNewQueueConfig(name))
	case messaging.VendorMemory:
		return memory.NewQueue[T](s.memNewQueueConfig(name)), nil
	}
	return nil, fmt.Errorf("unsupported queue vendor: %s", s.queueVendor)
}

func keyOf[T any]() reflect.Type {
	var t T
	rType := reflect.TypeOf(t)
	if rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	return rType
}

// SetListenerOf consumes events of type T, replacing a previous listener.
func SetListenerOf[T any](ctx context.Context, s *Service, handler Handler[T]) error {
	publisher, err := PublisherOf[T](s)
	if err != nil {
		return err
	}
	key := keyOf[T]()
	s.mux.Lock()
	defer s.mux.Unlock()
	if previous, ok := s.typedListener[key]; ok {
		previous.(*Listener[T]).Stop()
	}
	listener := NewListener[T](publisher, handler, s.logger)
	s.typedListener[key] = listener
	listener.Start(ctx)
	return nil
}

// PublisherOf returns a publisher for the provided type
func PublisherOf[T any](s *Service) (*Publisher[T], error) {
	key := keyOf[T]()
	s.mux.RLock()
	ret, ok := s.typedPublishers[key]
	s.mux.RUnlock()
	if ok {
		return ret.(*Publisher[T]), nil
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if ret, ok = s.typedPublishers[key]; ok {
		return ret.(*Publisher[T]), nil
	}
	queue, err := QueueOf[Event[T]](s, key.Name())
	if err != nil {
		return nil, err
	}
	publisher := NewPublisher[T](queue)
	publisher.anyQueue = s.publisher.queue
	publisher.mirror = &s.mirror
	s.typedPublishers[key] = publisher
	return publisher, nil
}
