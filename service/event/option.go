package event

import (
	"log/slog"

	"github.com/viant/afs"
	"github.com/viant/approver/service/messaging/fs"
	"github.com/viant/approver/service/messaging/memory"
)

type Option func(s *Service)

// WithNewFsQueueConfig sets the file queue configuration per queue name.
func WithNewFsQueueConfig(newConfig func(name string) fs.Config) Option {
	return func(s *Service) {
		s.fsNewQueueConfig = newConfig
	}
}

// WithNewMemoryQueueConfig sets the memory queue configuration per queue name.
func WithNewMemoryQueueConfig(newConfig func(name string) memory.Config) Option {
	return func(s *Service) {
		s.memNewQueueConfig = newConfig
	}
}

// WithFs sets the storage service used by file queues.
func WithFs(service afs.Service) Option {
	return func(s *Service) {
		s.fs = service
	}
}

// WithLogger sets the listener logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
