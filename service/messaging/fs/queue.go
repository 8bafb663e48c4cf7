// Package fs implements a file based messaging.Queue on top of afs. Messages
// move between pending, inflight and dlq folders; file names sort by publish
// time so consumption is FIFO.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/approver/service/messaging"
)

const (
	pendingFolder  = "pending"
	inflightFolder = "inflight"
	dlqFolder      = "dlq"
)

// Config holds configuration for filesystem queue
type Config struct {
	BaseURL      string
	MaxRetries   int
	PollInterval time.Duration
}

// DefaultConfig returns a default queue configuration rooted at baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		MaxRetries:   3,
		PollInterval: 250 * time.Millisecond,
	}
}

// envelope is the persisted form of a message.
type envelope[T any] struct {
	ID          string    `json:"id"`
	Data        T         `json:"data"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Message is a consumed file message.
type Message[T any] struct {
	envelope[T]
	name      string
	queue     *Queue[T]
	mu        sync.Mutex
	processed bool
}

// T returns the message payload
func (m *Message[T]) T() *T {
	return &m.Data
}

// Attempts returns how many times delivery failed so far.
func (m *Message[T]) Attempts() int {
	return m.envelope.Attempts
}

// Ack deletes the inflight file.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return messaging.ErrProcessed
	}
	m.processed = true
	return m.queue.fs.Delete(context.Background(), m.queue.folderURL(inflightFolder, m.name))
}

// Nack moves the message back to pending, or to dlq once MaxRetries is
// exceeded.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return messaging.ErrProcessed
	}
	m.processed = true
	m.envelope.Attempts++
	if err != nil {
		m.LastError = err.Error()
	}
	target := pendingFolder
	if m.envelope.Attempts > m.queue.config.MaxRetries {
		target = dlqFolder
	}
	ctx := context.Background()
	if err := m.queue.write(ctx, target, m.name, &m.envelope); err != nil {
		return err
	}
	return m.queue.fs.Delete(ctx, m.queue.folderURL(inflightFolder, m.name))
}

// Queue implements a filesystem-based messaging.Queue
type Queue[T any] struct {
	fs     afs.Service
	config Config
	mu     sync.Mutex
}

// NewQueue creates a new filesystem-based queue
func NewQueue[T any](fs afs.Service, config Config) (*Queue[T], error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("queue base URL was empty")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig(config.BaseURL).PollInterval
	}
	config.BaseURL = url.Normalize(config.BaseURL, file.Scheme)
	ret := &Queue[T]{fs: fs, config: config}
	ctx := context.Background()
	for _, folder := range []string{pendingFolder, inflightFolder, dlqFolder} {
		URL := ret.folderURL(folder, "")
		if ok, _ := fs.Exists(ctx, URL); ok {
			continue
		}
		if err := fs.Create(ctx, URL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create queue folder %v: %w", URL, err)
		}
	}
	return ret, nil
}

func (q *Queue[T]) folderURL(folder, name string) string {
	return url.Join(q.config.BaseURL, path.Join(folder, name))
}

func (q *Queue[T]) write(ctx context.Context, folder, name string, e *envelope[T]) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode message %v: %w", e.ID, err)
	}
	URL := q.folderURL(folder, name)
	if err = q.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write message %v: %w", URL, err)
	}
	return nil
}

// Publish writes the message to the pending folder.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	now := time.Now().UTC()
	e := &envelope[T]{ID: uuid.New().String(), Data: *t, PublishedAt: now}
	name := fmt.Sprintf("%020d-%s.json", now.UnixNano(), e.ID)
	return q.write(ctx, pendingFolder, name, e)
}

// Consume claims the oldest pending message, polling until one appears or
// ctx is done.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	for {
		msg, err := q.claim(ctx)
		if err != nil || msg != nil {
			return msg, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.config.PollInterval):
		}
	}
}

func (q *Queue[T]) claim(ctx context.Context) (*Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	names, err := q.names(ctx, pendingFolder)
	if err != nil || len(names) == 0 {
		return nil, err
	}
	name := names[0]
	URL := q.folderURL(pendingFolder, name)
	data, err := q.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %v: %w", URL, err)
	}
	msg := &Message[T]{name: name, queue: q}
	if err = json.Unmarshal(data, &msg.envelope); err != nil {
		_ = q.fs.Move(ctx, URL, q.folderURL(dlqFolder, name))
		return nil, fmt.Errorf("failed to decode message %v: %w", URL, err)
	}
	if err = q.fs.Move(ctx, URL, q.folderURL(inflightFolder, name)); err != nil {
		return nil, fmt.Errorf("failed to claim message %v: %w", URL, err)
	}
	return msg, nil
}

func (q *Queue[T]) names(ctx context.Context, folder string) ([]string, error) {
	objects, err := q.fs.List(ctx, q.folderURL(folder, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to list %v messages: %w", folder, err)
	}
	var ret []string
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		ret = append(ret, object.Name())
	}
	sort.Strings(ret)
	return ret, nil
}

// Size returns the number of pending messages.
func (q *Queue[T]) Size(ctx context.Context) (int, error) {
	names, err := q.names(ctx, pendingFolder)
	return len(names), err
}

// DeadLetters returns dead-lettered payloads in publish order.
func (q *Queue[T]) DeadLetters(ctx context.Context) ([]T, error) {
	names, err := q.names(ctx, dlqFolder)
	if err != nil {
		return nil, err
	}
	var ret []T
	for _, name := range names {
		data, err := q.fs.DownloadWithURL(ctx, q.folderURL(dlqFolder, name))
		if err != nil {
			return nil, err
		}
		var e envelope[T]
		if err = json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		ret = append(ret, e.Data)
	}
	return ret, nil
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
