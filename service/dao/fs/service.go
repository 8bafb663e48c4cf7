package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/viant/approver/model"
	"github.com/viant/approver/service/dao"
	"github.com/viant/approver/service/dao/criteria"
)

const (
	instanceFolder    = "instances"
	transactionFolder = "transactions"
)

// document is the persisted form of an instance with its audit history.
type document struct {
	Instance *model.Instance       `json:"instance"`
	History  []*model.HistoryEntry `json:"history"`
}

// pointer maps a transaction to its latest instance.
type pointer struct {
	InstanceID string `json:"instanceId"`
}

// Service implements a filesystem-based approval store on top of afs, so any
// afs supported location (file, mem, s3, gs) can back it. Writes are
// serialized by a process-wide mutex; a single writer process per base URL is
// assumed.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

// Ensure Service implements dao.Store
var _ dao.Store = (*Service)(nil)

// CreateInstance persists a new instance and points its transaction at it.
func (s *Service) CreateInstance(ctx context.Context, instance *model.Instance, entry *model.HistoryEntry) error {
	if instance == nil {
		return dao.ErrNilEntity
	}
	if instance.ID == "" || instance.TransactionID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.fs.Exists(ctx, s.instancePath(instance.ID))
	if err != nil {
		return fmt.Errorf("failed to check if instance exists: %w", err)
	}
	if exists {
		return fmt.Errorf("instance %v: %w", instance.ID, dao.ErrDuplicate)
	}
	current, err := s.loadLatest(ctx, instance.TransactionID)
	if err != nil && !isNotFound(err) {
		return err
	}
	if current != nil && current.Instance.Status == model.StatusRequested {
		return fmt.Errorf("transaction %v: %w", instance.TransactionID, dao.ErrDuplicate)
	}
	doc := &document{Instance: instance.Clone(), History: dao.AppendEntries(nil, entry)}
	if err = s.save(ctx, s.instancePath(instance.ID), doc); err != nil {
		return err
	}
	return s.save(ctx, s.transactionPath(instance.TransactionID), &pointer{InstanceID: instance.ID})
}

// ConditionalUpdateStep moves a step out of the expected status.
func (s *Service) ConditionalUpdateStep(ctx context.Context, instanceID, stepID string, expected model.StepStatus, update *dao.StepUpdate) error {
	if instanceID == "" || stepID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, instanceID)
	if err != nil {
		return err
	}
	if err = dao.UpdateStep(doc.Instance, stepID, expected, update); err != nil {
		return err
	}
	doc.History = dao.AppendEntries(doc.History, update.History)
	return s.save(ctx, s.instancePath(instanceID), doc)
}

// ConditionalAdvanceInstance applies update when the stored version matches.
func (s *Service) ConditionalAdvanceInstance(ctx context.Context, instanceID string, expectedVersion int, update *dao.InstanceUpdate) error {
	if instanceID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, instanceID)
	if err != nil {
		return err
	}
	if err = dao.AdvanceInstance(doc.Instance, expectedVersion, update); err != nil {
		return err
	}
	doc.History = dao.AppendEntries(doc.History, update.History...)
	return s.save(ctx, s.instancePath(instanceID), doc)
}

// AppendHistory appends an audit entry to the instance document.
func (s *Service) AppendHistory(ctx context.Context, entry *model.HistoryEntry) error {
	if entry == nil {
		return dao.ErrNilEntity
	}
	if entry.InstanceID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, entry.InstanceID)
	if err != nil {
		return err
	}
	doc.History = dao.AppendEntries(doc.History, entry)
	return s.save(ctx, s.instancePath(entry.InstanceID), doc)
}

// ReadSnapshot loads the latest instance for the transaction.
func (s *Service) ReadSnapshot(ctx context.Context, transactionID string) (*model.Instance, []*model.HistoryEntry, error) {
	if transactionID == "" {
		return nil, nil, dao.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.loadLatest(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	return doc.Instance, doc.History, nil
}

// List returns the latest instance of every transaction.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	base := url.Join(s.basePath, transactionFolder)
	exists, err := s.fs.Exists(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("failed to check transaction folder: %w", err)
	}
	if !exists {
		return nil, nil
	}
	objects, err := s.fs.List(ctx, base, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction files: %w", err)
	}

	var instances []*model.Instance
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		doc, err := s.loadLatest(ctx, strings.TrimSuffix(object.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		if !criteria.FilterByStatus(string(doc.Instance.Status), parameters) {
			continue
		}
		instances = append(instances, doc.Instance)
	}
	sort.Slice(instances, func(i, j int) bool {
		if !instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].CreatedAt.Before(instances[j].CreatedAt)
		}
		return instances[i].TransactionID < instances[j].TransactionID
	})
	return instances, nil
}

func (s *Service) loadLatest(ctx context.Context, transactionID string) (*document, error) {
	ptr := &pointer{}
	if err := s.read(ctx, s.transactionPath(transactionID), ptr); err != nil {
		return nil, err
	}
	return s.load(ctx, ptr.InstanceID)
}

func (s *Service) load(ctx context.Context, instanceID string) (*document, error) {
	doc := &document{}
	if err := s.read(ctx, s.instancePath(instanceID), doc); err != nil {
		return nil, err
	}
	if doc.Instance == nil {
		return nil, fmt.Errorf("instance document %v was empty: %w", instanceID, dao.ErrNotFound)
	}
	return doc, nil
}

func (s *Service) read(ctx context.Context, filePath string, target interface{}) error {
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if %s exists: %w", filePath, err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}
	return nil
}

func (s *Service) save(ctx context.Context, filePath string, source interface{}) error {
	data, err := json.Marshal(source)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filePath, err)
	}
	if err = s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save %s: %w", filePath, err)
	}
	return nil
}

func (s *Service) instancePath(id string) string {
	return url.Join(s.basePath, path.Join(instanceFolder, id+".json"))
}

func (s *Service) transactionPath(id string) string {
	return url.Join(s.basePath, path.Join(transactionFolder, id+".json"))
}

func isNotFound(err error) bool {
	return errors.Is(err, dao.ErrNotFound)
}

// New creates a new filesystem approval store rooted at basePath.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	fs := afs.New()

	// Ensure the base directory exists
	ctx := context.Background()
	exists, _ := fs.Exists(ctx, basePath)
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	// Normalize path
	basePath = url.Normalize(basePath, file.Scheme)

	return &Service{
		basePath: basePath,
		fs:       fs,
	}, nil
}
