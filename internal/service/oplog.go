package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/mnemo/internal/storage"
)

// Operation is one audit row: a surface call or a maintenance pass, with
// how it went and how long it took.
type Operation struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	AgentName string        `json:"agentName,omitempty"`
	Status    string        `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"createdAt"`
}

const (
	opStatusOK    = "ok"
	opStatusError = "error"
)

// OperationLog records every operation the facade performs. Best-effort by
// contract: callers log write failures instead of failing the operation.
type OperationLog struct {
	db *storage.DB
	mu sync.Mutex

	now func() time.Time
}

func NewOperationLog(db *storage.DB) (*OperationLog, error) {
	l := &OperationLog{db: db, now: time.Now}
	if err := l.initSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *OperationLog) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_operation_logs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			agent_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oplog_name ON memory_operation_logs(name, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_oplog_created ON memory_operation_logs(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("init operation log schema: %w", err)
		}
	}
	return nil
}

func (l *OperationLog) Record(ctx context.Context, op Operation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = l.now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO memory_operation_logs (id, name, agent_name, status, detail, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), op.ID, op.Name, op.AgentName, op.Status, op.Detail,
		op.Duration.Milliseconds(), storage.FormatTime(op.CreatedAt))
	if err != nil {
		return fmt.Errorf("record operation: %w", err)
	}
	return nil
}

// Recent returns the newest operations, optionally filtered by name.
func (l *OperationLog) Recent(ctx context.Context, name string, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, name, agent_name, status, detail, duration_ms, created_at
		FROM memory_operation_logs`
	args := make([]any, 0, 2)
	if name = strings.TrimSpace(name); name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, l.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()
	return scanOperations(rows)
}

// DeleteBefore prunes operations older than cutoff.
func (l *OperationLog) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx, l.db.Rebind(`
		DELETE FROM memory_operation_logs WHERE created_at < ?
	`), storage.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune operations: %w", err)
	}
	return res.RowsAffected()
}

func scanOperations(rows *sql.Rows) ([]Operation, error) {
	result := make([]Operation, 0)
	for rows.Next() {
		var (
			op         Operation
			durationMs int64
			createdAt  string
		)
		if err := rows.Scan(&op.ID, &op.Name, &op.AgentName, &op.Status, &op.Detail, &durationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Duration = time.Duration(durationMs) * time.Millisecond
		var err error
		if op.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("operation %s created_at: %w", op.ID, err)
		}
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return result, nil
}
