// Package checkpoint journals bulk file moves after they happen so they can
// be reversed later. A checkpoint goes from active to rolled_back exactly once.
package checkpoint

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hpungsan/cairn/internal/db"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/logging"
	"github.com/hpungsan/cairn/internal/metrics"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
)

const storeName = "checkpoint"

// Status is a checkpoint's lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusRolledBack Status = "rolled_back"
)

// Operation is one performed move.
type Operation struct {
	Src      string `json:"src"`
	Dst      string `json:"dst"`
	Reason   string `json:"reason,omitempty"`
	Category string `json:"category,omitempty"`
}

// Checkpoint is one journal entry: the moves of a single action, in the
// order they were made.
type Checkpoint struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ActionType   string         `json:"action_type"`
	Description  string         `json:"description,omitempty"`
	Operations   []Operation    `json:"operations"`
	Meta         map[string]any `json:"meta,omitempty"`
	Status       Status         `json:"status"`
	RolledBackAt *time.Time     `json:"rolled_back_at,omitempty"`
}

// ItemError describes one move that could not be reversed.
type ItemError struct {
	Src   string `json:"src"`
	Dst   string `json:"dst"`
	Error string `json:"error"`
}

// Report is the outcome of a rollback.
type Report struct {
	CheckpointID string      `json:"checkpoint_id"`
	SuccessCount int         `json:"success_count"`
	FailedCount  int         `json:"failed_count"`
	Errors       []ItemError `json:"errors,omitempty"`
}

// Manager creates, lists and rolls back checkpoints.
type Manager struct {
	db      *sql.DB
	metrics *metrics.Metrics
	logger  *zap.Logger

	// rollbackMu serializes rollbacks so the active check and the final
	// status update cannot interleave within this process.
	rollbackMu sync.Mutex
}

// New returns a Manager over the checkpoints table in conn.
func New(conn *sql.DB, m *metrics.Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		db:      conn,
		metrics: metrics.OrNew(m),
		logger:  logging.OrNop(logger).Named(storeName),
	}
}

func (m *Manager) fail(op string, err error, values ...goerr.Option) error {
	return errors.Storage(m.logger, storeName, op, err, values...)
}

// Create journals moves that have already been performed and returns the
// new checkpoint id. Callers must only call this after the moves succeeded.
func (m *Manager) Create(ctx context.Context, actionType, description string, ops []Operation, meta map[string]any) (string, error) {
	if actionType == "" {
		return "", errors.NewInvalidRequest("action_type is required")
	}
	if len(ops) == 0 {
		return "", errors.NewInvalidRequest("operations must not be empty")
	}
	for i, op := range ops {
		if op.Src == "" || op.Dst == "" {
			return "", errors.NewInvalidRequest(fmt.Sprintf("operations[%d]: src and dst are required", i))
		}
	}

	opsJSON, err := db.EncodeJSON(ops)
	if err != nil {
		return "", m.fail("create", err)
	}
	metaJSON, err := db.EncodeJSON(meta)
	if err != nil {
		return "", m.fail("create", err)
	}

	id := uuid.NewString()
	err = db.WithBusyRetry(ctx, func() error {
		_, err := m.db.ExecContext(ctx, `
			INSERT INTO checkpoints (id, timestamp, action_type, description, operations_json, meta_json, status)
			VALUES (?, ?, ?, ?, ?, ?, 'active')
		`, id, time.Now().UnixNano(), actionType, description, opsJSON.String, metaJSON)
		return err
	})
	if err != nil {
		return "", m.fail("create", err, goerr.V("action_type", actionType), goerr.V("operations", len(ops)))
	}
	return id, nil
}

// Get returns the checkpoint with id, or NOT_FOUND.
func (m *Manager) Get(ctx context.Context, id string) (*Checkpoint, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, timestamp, action_type, description, operations_json, meta_json, status, rolled_back_at
		FROM checkpoints WHERE id = ?`, id)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFound("checkpoint", id)
		}
		return nil, m.fail("get", err, goerr.V("checkpoint_id", id))
	}
	return cp, nil
}

// List returns up to limit checkpoints, most recent first.
func (m *Manager) List(ctx context.Context, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, timestamp, action_type, description, operations_json, meta_json, status, rolled_back_at
		FROM checkpoints ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, m.fail("list", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, m.fail("list", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, m.fail("list", err)
	}
	return out, nil
}

// Rollback moves every dst back to its src, last operation first. Failures
// are recorded per item and do not stop the remaining items. The checkpoint
// is marked rolled_back when processing finishes, whatever the failures.
// A checkpoint that is already rolled back is rejected before touching the
// filesystem.
func (m *Manager) Rollback(ctx context.Context, id string) (*Report, error) {
	m.rollbackMu.Lock()
	defer m.rollbackMu.Unlock()

	cp, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.Status == StatusRolledBack {
		return nil, errors.NewAlreadyRolledBack(id)
	}

	report := &Report{CheckpointID: id}
	for i := len(cp.Operations) - 1; i >= 0; i-- {
		op := cp.Operations[i]
		if err := reverse(op); err != nil {
			report.FailedCount++
			report.Errors = append(report.Errors, ItemError{Src: op.Src, Dst: op.Dst, Error: err.Error()})
			m.logger.Warn("rollback item failed",
				zap.String("checkpoint_id", id), zap.String("src", op.Src), zap.String("dst", op.Dst), zap.Error(err))
			continue
		}
		report.SuccessCount++
	}

	// The caller's context may be cancelled mid-way; the status update still
	// has to land or a second rollback would replay moves that already happened.
	var affected int64
	err = db.WithBusyRetry(context.WithoutCancel(ctx), func() error {
		res, err := m.db.ExecContext(context.WithoutCancel(ctx),
			`UPDATE checkpoints SET status = 'rolled_back', rolled_back_at = ? WHERE id = ? AND status = 'active'`,
			time.Now().UnixNano(), id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return report, m.fail("mark rolled back", err, goerr.V("checkpoint_id", id))
	}
	if affected == 0 {
		return report, errors.NewAlreadyRolledBack(id)
	}

	m.metrics.Rollbacks.Inc()
	m.metrics.RollbackItemFailures.Add(float64(report.FailedCount))
	return report, nil
}

// reverse moves op.Dst back to op.Src.
func reverse(op Operation) error {
	if _, err := os.Lstat(op.Dst); err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("moved file no longer exists at %s", op.Dst)
		}
		return err
	}
	if _, err := os.Lstat(op.Src); err == nil {
		return fmt.Errorf("original location %s is occupied", op.Src)
	}
	return MovePath(op.Dst, op.Src)
}

// Count returns the number of checkpoints by status.
func (m *Manager) Count(ctx context.Context) (map[Status]int, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM checkpoints GROUP BY status`)
	if err != nil {
		return nil, m.fail("count", err)
	}
	defer rows.Close()

	out := map[Status]int{StatusActive: 0, StatusRolledBack: 0}
	for rows.Next() {
		var (
			s Status
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, m.fail("count", err)
		}
		out[s] = n
	}
	if err := rows.Err(); err != nil {
		return nil, m.fail("count", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*Checkpoint, error) {
	var (
		cp         Checkpoint
		ts         int64
		opsJSON    string
		metaJSON   sql.NullString
		status     string
		rolledBack sql.NullInt64
	)
	if err := row.Scan(&cp.ID, &ts, &cp.ActionType, &cp.Description, &opsJSON, &metaJSON, &status, &rolledBack); err != nil {
		return nil, err
	}
	if err := db.DecodeJSON(sql.NullString{String: opsJSON, Valid: true}, &cp.Operations); err != nil {
		return nil, err
	}
	if err := db.DecodeJSON(metaJSON, &cp.Meta); err != nil {
		return nil, err
	}
	cp.Timestamp = time.Unix(0, ts).UTC()
	cp.Status = Status(status)
	if rolledBack.Valid {
		t := time.Unix(0, rolledBack.Int64).UTC()
		cp.RolledBackAt = &t
	}
	return &cp, nil
}
