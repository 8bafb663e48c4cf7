package rdbms

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/viant/approver/model"
	"github.com/viant/approver/service/dao"
	"github.com/viant/approver/service/dao/criteria"
)

const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// Service implements a MySQL approval store. Every operation runs in its own
// transaction; conditional writes rely on row counts of guarded UPDATEs.
type Service struct {
	db         *sql.DB
	maxRetries int
}

var _ dao.Store = (*Service)(nil)

// CreateInstance inserts the instance, its steps and the initiation entry.
func (s *Service) CreateInstance(ctx context.Context, instance *model.Instance, entry *model.HistoryEntry) error {
	if instance == nil {
		return dao.ErrNilEntity
	}
	if instance.ID == "" || instance.TransactionID == "" {
		return dao.ErrInvalidID
	}
	criteriaJSON, err := json.Marshal(instance.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}
	conditionsJSON, err := json.Marshal(instance.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	historySeq := 0
	if entry != nil {
		historySeq = 1
	}
	return s.withRetry(ctx, func(tx *sql.Tx) error {
		var activeKey interface{}
		if instance.Status == model.StatusRequested {
			activeKey = instance.TransactionID
		}
		if _, err := tx.ExecContext(ctx, insertInstanceSQL,
			instance.ID, instance.TransactionID, activeKey, instance.Workflow, string(instance.Status), instance.InitiatorID,
			instance.Version, instance.CurrentOrder, historySeq, criteriaJSON, conditionsJSON, instance.CreatedAt, instance.UpdatedAt); err != nil {
			if isMySQLError(err, errDuplicateEntry) {
				return fmt.Errorf("transaction %v: %w", instance.TransactionID, dao.ErrDuplicate)
			}
			return fmt.Errorf("failed to insert instance %v: %w", instance.ID, err)
		}
		for _, step := range instance.Steps {
			if _, err := tx.ExecContext(ctx, insertStepSQL,
				instance.ID, step.ID, step.Role, step.Order, step.Parallel, string(step.Status),
				nullable(step.ActedBy), nullableTime(step.ActedAt), nullable(step.Comment)); err != nil {
				return fmt.Errorf("failed to insert step %v: %w", step.ID, err)
			}
		}
		if entry == nil {
			return nil
		}
		entry.Seq = 1
		return insertHistory(ctx, tx, entry)
	})
}

// ConditionalUpdateStep moves a step out of the expected status. The instance
// row is locked first so that every write path acquires locks in the same
// order.
func (s *Service) ConditionalUpdateStep(ctx context.Context, instanceID, stepID string, expected model.StepStatus, update *dao.StepUpdate) error {
	if instanceID == "" || stepID == "" {
		return dao.ErrInvalidID
	}
	if update == nil {
		return dao.ErrNilEntity
	}
	entries := 0
	if update.History != nil {
		entries = 1
	}
	return s.withRetry(ctx, func(tx *sql.Tx) error {
		if err := expectRow(tx.ExecContext(ctx, touchInstanceSQL, entries, update.ActedAt, instanceID)); err != nil {
			return fmt.Errorf("instance %v: %w", instanceID, err)
		}
		err := expectRow(tx.ExecContext(ctx, updateStepSQL,
			string(update.Status), update.ActedBy, update.ActedAt, nullable(update.Comment), instanceID, stepID, string(expected)))
		if errors.Is(err, dao.ErrNotFound) {
			return s.stepMismatch(ctx, tx, instanceID, stepID, expected)
		}
		if err != nil {
			return err
		}
		if update.History == nil {
			return nil
		}
		return appendHistory(ctx, tx, update.History)
	})
}

func (s *Service) stepMismatch(ctx context.Context, tx *sql.Tx, instanceID, stepID string, expected model.StepStatus) error {
	var actual string
	err := tx.QueryRowContext(ctx, stepStatusSQL, instanceID, stepID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("step %v: %w", stepID, dao.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read step %v: %w", stepID, err)
	}
	return fmt.Errorf("step %v is %v, expected %v: %w", stepID, actual, expected, dao.ErrStatusMismatch)
}

// ConditionalAdvanceInstance applies update when the stored version matches.
func (s *Service) ConditionalAdvanceInstance(ctx context.Context, instanceID string, expectedVersion int, update *dao.InstanceUpdate) error {
	if instanceID == "" {
		return dao.ErrInvalidID
	}
	if update == nil {
		return dao.ErrNilEntity
	}
	var finalizedAt interface{}
	if update.FinalizedAt != nil {
		finalizedAt = *update.FinalizedAt
	}
	return s.withRetry(ctx, func(tx *sql.Tx) error {
		err := expectRow(tx.ExecContext(ctx, advanceSQL,
			string(update.Status), update.Status.IsTerminal(), update.CurrentOrder, finalizedAt, update.UpdatedAt,
			len(update.History), instanceID, expectedVersion))
		if errors.Is(err, dao.ErrNotFound) {
			return versionMismatch(ctx, tx, instanceID, expectedVersion)
		}
		if err != nil {
			return err
		}
		if update.CancelPending {
			if _, err := tx.ExecContext(ctx, cancelPendingSQL, string(model.StepCancelled), instanceID, string(model.StepPending)); err != nil {
				return fmt.Errorf("failed to cancel pending steps of %v: %w", instanceID, err)
			}
		}
		if len(update.History) == 0 {
			return nil
		}
		var last int
		if err := tx.QueryRowContext(ctx, historySeqSQL, instanceID).Scan(&last); err != nil {
			return fmt.Errorf("failed to read history sequence of %v: %w", instanceID, err)
		}
		for i, entry := range update.History {
			entry.Seq = last - len(update.History) + i + 1
			if err := insertHistory(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func versionMismatch(ctx context.Context, tx *sql.Tx, instanceID string, expected int) error {
	var actual int
	err := tx.QueryRowContext(ctx, versionSQL, instanceID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("instance %v: %w", instanceID, dao.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read instance %v version: %w", instanceID, err)
	}
	return fmt.Errorf("instance %v at version %v, expected %v: %w", instanceID, actual, expected, dao.ErrVersionMismatch)
}

// AppendHistory appends an audit entry without changing the instance version.
func (s *Service) AppendHistory(ctx context.Context, entry *model.HistoryEntry) error {
	if entry == nil {
		return dao.ErrNilEntity
	}
	if entry.InstanceID == "" {
		return dao.ErrInvalidID
	}
	return s.withRetry(ctx, func(tx *sql.Tx) error {
		if err := expectRow(tx.ExecContext(ctx, bumpHistorySQL, entry.InstanceID)); err != nil {
			return fmt.Errorf("instance %v: %w", entry.InstanceID, err)
		}
		return appendHistory(ctx, tx, entry)
	})
}

// ReadSnapshot loads the latest instance for the transaction in a read-only
// transaction so steps and history reflect the same commit.
func (s *Service) ReadSnapshot(ctx context.Context, transactionID string) (*model.Instance, []*model.HistoryEntry, error) {
	if transactionID == "" {
		return nil, nil, dao.ErrInvalidID
	}
	var instance *model.Instance
	var history []*model.HistoryEntry
	err := s.withTransaction(ctx, &sql.TxOptions{ReadOnly: true}, func(tx *sql.Tx) error {
		var err error
		if instance, err = scanInstance(tx.QueryRowContext(ctx, latestInstanceSQL, transactionID)); err != nil {
			return err
		}
		if instance.Steps, err = loadSteps(ctx, tx, instance.ID); err != nil {
			return err
		}
		history, err = loadHistory(ctx, tx, instance.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return instance, history, nil
}

// List returns the latest instance of every transaction.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Instance, error) {
	var instances []*model.Instance
	err := s.withTransaction(ctx, &sql.TxOptions{ReadOnly: true}, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, listInstancesSQL)
		if err != nil {
			return fmt.Errorf("failed to list instances: %w", err)
		}
		defer rows.Close()
		latest := map[string]bool{}
		for rows.Next() {
			instance, err := scanInstance(rows)
			if err != nil {
				return err
			}
			if latest[instance.TransactionID] {
				continue
			}
			latest[instance.TransactionID] = true
			if criteria.FilterByStatus(string(instance.Status), parameters) {
				instances = append(instances, instance)
			}
		}
		if err = rows.Err(); err != nil {
			return err
		}
		_ = rows.Close()
		for _, instance := range instances {
			if instance.Steps, err = loadSteps(ctx, tx, instance.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// EnsureSchema creates the store tables when missing.
func (s *Service) EnsureSchema(ctx context.Context) error {
	for _, ddl := range Schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// withTransaction executes fn within a database transaction. The transaction
// is rolled back if fn returns an error or panics.
func (s *Service) withTransaction(ctx context.Context, options *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, options)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w (rollback error: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// withRetry retries write transactions aborted by deadlock or lock wait
// timeout with exponential backoff. Other errors return immediately.
func (s *Service) withRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.withTransaction(ctx, nil, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isMySQLError(err, errDeadlock) && !isMySQLError(err, errLockWaitTimeout) {
			return err
		}
		if attempt < s.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond * time.Duration(10*(1<<uint(attempt)))):
			}
		}
	}
	return fmt.Errorf("transaction failed after %d retries: %w", s.maxRetries, lastErr)
}

func isMySQLError(err error, number uint16) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == number
}

// expectRow returns dao.ErrNotFound when the statement matched no rows.
func expectRow(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return dao.ErrNotFound
	}
	return nil
}

func appendHistory(ctx context.Context, tx *sql.Tx, entry *model.HistoryEntry) error {
	if err := tx.QueryRowContext(ctx, historySeqSQL, entry.InstanceID).Scan(&entry.Seq); err != nil {
		return fmt.Errorf("failed to read history sequence of %v: %w", entry.InstanceID, err)
	}
	return insertHistory(ctx, tx, entry)
}

func insertHistory(ctx context.Context, tx *sql.Tx, entry *model.HistoryEntry) error {
	if _, err := tx.ExecContext(ctx, insertHistorySQL,
		entry.Seq, entry.ID, entry.InstanceID, entry.TransactionID, entry.ActorID, string(entry.ActionType),
		nullable(entry.StepID), nullable(entry.Comment), entry.Timestamp); err != nil {
		return fmt.Errorf("failed to insert history entry %v: %w", entry.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row scanner) (*model.Instance, error) {
	instance := &model.Instance{}
	var status string
	var criteriaJSON, conditionsJSON []byte
	var finalizedAt sql.NullTime
	err := row.Scan(&instance.ID, &instance.TransactionID, &instance.Workflow, &status, &instance.InitiatorID,
		&instance.Version, &instance.CurrentOrder, &criteriaJSON, &conditionsJSON,
		&instance.CreatedAt, &instance.UpdatedAt, &finalizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dao.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}
	instance.Status = model.Status(status)
	if len(criteriaJSON) > 0 {
		if err = json.Unmarshal(criteriaJSON, &instance.Criteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal criteria of %v: %w", instance.ID, err)
		}
	}
	if len(conditionsJSON) > 0 {
		if err = json.Unmarshal(conditionsJSON, &instance.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions of %v: %w", instance.ID, err)
		}
	}
	if finalizedAt.Valid {
		instance.FinalizedAt = &finalizedAt.Time
	}
	return instance, nil
}

func loadSteps(ctx context.Context, tx *sql.Tx, instanceID string) ([]*model.Step, error) {
	rows, err := tx.QueryContext(ctx, selectStepsSQL, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps of %v: %w", instanceID, err)
	}
	defer rows.Close()
	var steps []*model.Step
	for rows.Next() {
		step := &model.Step{}
		var status string
		var actedBy, comment sql.NullString
		var actedAt sql.NullTime
		if err := rows.Scan(&step.ID, &step.Role, &step.Order, &step.Parallel, &status, &actedBy, &actedAt, &comment); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Status = model.StepStatus(status)
		step.ActedBy = actedBy.String
		step.Comment = comment.String
		if actedAt.Valid {
			step.ActedAt = &actedAt.Time
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func loadHistory(ctx context.Context, tx *sql.Tx, instanceID string) ([]*model.HistoryEntry, error) {
	rows, err := tx.QueryContext(ctx, selectHistorySQL, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of %v: %w", instanceID, err)
	}
	defer rows.Close()
	var history []*model.HistoryEntry
	for rows.Next() {
		entry := &model.HistoryEntry{}
		var actionType string
		var stepID, comment sql.NullString
		if err := rows.Scan(&entry.Seq, &entry.ID, &entry.InstanceID, &entry.TransactionID, &entry.ActorID,
			&actionType, &stepID, &comment, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.ActionType = model.ActionType(actionType)
		entry.StepID = stepID.String
		entry.Comment = comment.String
		history = append(history, entry)
	}
	return history, rows.Err()
}

func nullable(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

// Option customises the store.
type Option func(*Service)

// WithMaxRetries sets how many times a deadlocked transaction is attempted.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// New creates a store over an open database handle.
func New(db *sql.DB, options ...Option) *Service {
	ret := &Service{db: db, maxRetries: 3}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Open connects to MySQL using dsn. The dsn must enable parseTime.
func Open(ctx context.Context, dsn string, options ...Option) (*Service, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db, options...), nil
}

// Close releases the database handle.
func (s *Service) Close() error {
	return s.db.Close()
}
