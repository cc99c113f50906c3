// Package invlog persists one durable record per agent invocation.
package invlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/drover-ai/drover/internal/agent"
)

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	group_name TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL DEFAULT '',
	stdout TEXT NOT NULL DEFAULT '',
	stderr TEXT NOT NULL DEFAULT '',
	exit_code INTEGER NOT NULL DEFAULT 0,
	new_session BOOLEAN NOT NULL DEFAULT 0,
	used_fallback BOOLEAN NOT NULL DEFAULT 0,
	rate_limited BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_invocations_group ON invocations(group_name);
CREATE INDEX IF NOT EXISTS idx_invocations_session ON invocations(session_id);
`

// Log is a sqlite-backed invocation log.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the invocation log at dbPath.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open invocation log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply invocation log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record persists one invocation record.
func (l *Log) Record(ctx context.Context, rec *agent.Record) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO invocations
			(name, group_name, session_id, model, prompt, stdout, stderr,
			 exit_code, new_session, used_fallback, rate_limited, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.Group, rec.SessionID, rec.Model, rec.Prompt,
		rec.Stdout, rec.Stderr, rec.ExitCode, rec.NewSession,
		rec.UsedFallback, rec.RateLimited, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert invocation record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]agent.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT name, group_name, session_id, model, prompt, stdout, stderr,
		       exit_code, new_session, used_fallback, rate_limited, created_at
		FROM invocations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query invocation records: %w", err)
	}
	defer rows.Close()

	var out []agent.Record
	for rows.Next() {
		var rec agent.Record
		var created string
		if err := rows.Scan(&rec.Name, &rec.Group, &rec.SessionID, &rec.Model,
			&rec.Prompt, &rec.Stdout, &rec.Stderr, &rec.ExitCode,
			&rec.NewSession, &rec.UsedFallback, &rec.RateLimited, &created); err != nil {
			return nil, fmt.Errorf("scan invocation record: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
