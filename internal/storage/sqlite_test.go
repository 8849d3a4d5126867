package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "state.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "archive_job").Scan(&name); err != nil {
		t.Fatalf("table archive_job missing: %v", err)
	}
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?;", "archive_job_active_site_idx").Scan(&name); err != nil {
		t.Fatalf("active-site index missing: %v", err)
	}

	// Bootstrapping twice must be harmless.
	if err := BootstrapSQLite(context.Background(), db); err != nil {
		t.Fatalf("second BootstrapSQLite: %v", err)
	}
}

func TestActiveSiteIndexRejectsSecondStartedJob(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	insert := `INSERT INTO archive_job(id, site_id, user_id, status, root_path, started_at) VALUES(?, 'site1', 'u', ?, '/tmp/x', '2026-01-01T00:00:00Z');`
	if _, err := db.Exec(insert, "a", "STARTED"); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if _, err := db.Exec(insert, "b", "COMPLETE"); err != nil {
		t.Fatalf("insert terminal job for same site: %v", err)
	}
	_, err = db.Exec(insert, "c", "STARTED")
	if err == nil || !strings.Contains(err.Error(), "UNIQUE") {
		t.Fatalf("expected UNIQUE violation, got %v", err)
	}
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
