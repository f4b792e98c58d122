// Package history persists one row per completed run, giving operators a
// queryable log of what ran, when, and how it ended.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ameliarose/hub/internal/run"
)

// Store records and queries run results against the run_log table.
type Store struct {
	db *sql.DB
}

// New wraps an opened database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts the terminal result for one execution. Satisfies the
// engine's HistorySink.
func (s *Store) Record(ctx context.Context, res run.Result) error {
	if res.ExecutionID == "" {
		return fmt.Errorf("execution_id is empty")
	}
	if !res.State.Terminal() {
		return fmt.Errorf("refusing to record non-terminal state %q", res.State)
	}

	var exitCode any
	if res.ExitCode != nil {
		exitCode = *res.ExitCode
	}
	var reason any
	if res.Reason != "" {
		reason = res.Reason
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO run_log(execution_id, module, state, exit_code, reason, started_at, ended_at, duration_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`,
		res.ExecutionID,
		res.Module,
		string(res.State),
		exitCode,
		reason,
		res.StartedAt.UTC().Format(time.RFC3339Nano),
		res.EndedAt.UTC().Format(time.RFC3339Nano),
		res.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run_log: %w", err)
	}
	return nil
}

// Recent returns the newest results across all modules, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]run.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT execution_id, module, state, exit_code, reason, started_at, ended_at
FROM run_log
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run_log: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// ByModule returns the newest results for one module, newest first.
func (s *Store) ByModule(ctx context.Context, module string, limit int) ([]run.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT execution_id, module, state, exit_code, reason, started_at, ended_at
FROM run_log
WHERE module = ?
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, module, limit)
	if err != nil {
		return nil, fmt.Errorf("query run_log: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// Prune deletes rows older than the retention window. Returns rows removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_log WHERE ended_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune run_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

func scanResults(rows *sql.Rows) ([]run.Result, error) {
	var out []run.Result
	for rows.Next() {
		var (
			r         run.Result
			state     string
			exitCode  sql.NullInt64
			reason    sql.NullString
			startedAt string
			endedAt   string
		)
		if err := rows.Scan(&r.ExecutionID, &r.Module, &state, &exitCode, &reason, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan run_log row: %w", err)
		}
		r.State = run.State(state)
		if exitCode.Valid {
			ec := int(exitCode.Int64)
			r.ExitCode = &ec
		}
		if reason.Valid {
			r.Reason = reason.String
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, endedAt); err == nil {
			r.EndedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
