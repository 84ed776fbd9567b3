// Package statsdb is the read-only execution capability over the
// match-statistics dataset.
package statsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aigoflow/analytics-service/internal/schema"
)

// ErrNotReadOnly is returned when a statement fails the read-only gate at
// the capability boundary.
var ErrNotReadOnly = errors.New("statement is not a read-only query")

type DB struct {
	*sql.DB
}

// Open opens the stats database and creates the dataset tables when they do
// not exist yet, so an empty file still serves offline runs.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	for _, ddl := range schema.DDL {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create dataset table: %w", err)
		}
	}
	return &DB{db}, nil
}

// ReadOnly reports whether the trimmed statement starts with SELECT or WITH,
// case-insensitively. This is the same gate the generator applies; the
// executor re-checks it as defense in depth.
func ReadOnly(statement string) bool {
	s := strings.ToUpper(strings.TrimSpace(statement))
	return strings.HasPrefix(s, "SELECT") || strings.HasPrefix(s, "WITH")
}

// Executor runs validated statements under a hard timeout and caps the rows
// surfaced to callers.
type Executor struct {
	db      *DB
	rowCap  int
	timeout time.Duration
}

func NewExecutor(db *DB, rowCap int, timeout time.Duration) *Executor {
	if rowCap <= 0 {
		rowCap = 200
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{db: db, rowCap: rowCap, timeout: timeout}
}

// Execute runs one read-only statement. The transaction is always rolled
// back (there is nothing to commit), which also resets the session after a
// failed or timed-out query. Transient errors are not retried.
func (e *Executor) Execute(ctx context.Context, statement string) ([]string, [][]any, error) {
	if !ReadOnly(statement) {
		return nil, nil, ErrNotReadOnly
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.db.BeginTx(execCtx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin query transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(execCtx, statement)
	if err != nil {
		return nil, nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var result [][]any
	truncated := 0
	for rows.Next() {
		if len(result) >= e.rowCap {
			truncated++
			continue
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("query failed: %w", err)
	}

	if truncated > 0 {
		slog.Warn("Result set truncated", "cap", e.rowCap, "dropped", truncated)
	}

	return columns, result, nil
}
