package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
//
// The pool is capped at one connection: SQLite serialises writers anyway, and
// a single connection keeps the pragmas below in force for every statement.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS archive_job (
  id                      TEXT PRIMARY KEY,
  site_id                 TEXT NOT NULL,
  user_id                 TEXT NOT NULL,
  status                  TEXT NOT NULL,
  include_student_content INTEGER NOT NULL DEFAULT 0,
  tools                   JSON NOT NULL DEFAULT '[]',
  failed_tools            JSON NOT NULL DEFAULT '[]',
  root_path               TEXT NOT NULL,
  artifact_path           TEXT,
  artifact_size           INTEGER NOT NULL DEFAULT 0,
  artifact_digest         TEXT,
  last_error              TEXT,
  started_at              TEXT NOT NULL,
  ended_at                TEXT
);`,
		// At most one STARTED job per site; the store relies on this to make
		// check-then-create atomic.
		`CREATE UNIQUE INDEX IF NOT EXISTS archive_job_active_site_idx ON archive_job(site_id) WHERE status = 'STARTED';`,
		`CREATE INDEX IF NOT EXISTS archive_job_site_started_at_idx ON archive_job(site_id, started_at);`,
		`CREATE INDEX IF NOT EXISTS archive_job_status_idx ON archive_job(status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
