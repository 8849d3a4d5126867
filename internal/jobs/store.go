package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mattjoyce/archivist/internal/failure"
)

const jobColumns = `id, site_id, user_id, status, include_student_content, tools, failed_tools,
  root_path, artifact_path, artifact_size, artifact_digest, last_error, started_at, ended_at`

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore is the SQLite-backed Store.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewStore returns a Store over an opened database (see storage.OpenSQLite).
func NewStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Create inserts a STARTED job. A concurrent or existing STARTED job for the
// same site is rejected by the active-site unique index, which makes the
// check-then-create sequence atomic.
func (s *SQLStore) Create(ctx context.Context, req CreateRequest) (*Job, error) {
	const op = "create archive job"
	switch {
	case req.ID == "":
		return nil, failure.New(failure.KindInvalidArgument, op, "id is empty")
	case req.SiteID == "":
		return nil, failure.New(failure.KindInvalidArgument, op, "site id is empty")
	case req.UserID == "":
		return nil, failure.New(failure.KindInvalidArgument, op, "user id is empty")
	case req.RootPath == "":
		return nil, failure.New(failure.KindInvalidArgument, op, "root path is empty")
	}

	tools, err := encodeList(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("%s: encode tools: %w", op, err)
	}

	startedAt := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO archive_job(
  id, site_id, user_id, status, include_student_content, tools, root_path, started_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, req.ID, req.SiteID, req.UserID, StatusStarted, req.IncludeStudentContent, tools, req.RootPath,
		startedAt.Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, failure.New(failure.KindAlreadyInProgress, op, "an archive is already in progress for site %q", req.SiteID)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Job{
		ID:                    req.ID,
		SiteID:                req.SiteID,
		UserID:                req.UserID,
		Status:                StatusStarted,
		IncludeStudentContent: req.IncludeStudentContent,
		Tools:                 append([]string(nil), req.Tools...),
		FailedTools:           []string{},
		RootPath:              req.RootPath,
		StartedAt:             startedAt,
	}, nil
}

// Finish moves a STARTED job to a terminal status and records its outcome.
// Artifact fields are persisted only for statuses that carry an artifact.
func (s *SQLStore) Finish(ctx context.Context, id string, out Outcome) (*Job, error) {
	const op = "finish archive job"
	if id == "" {
		return nil, failure.New(failure.KindInvalidArgument, op, "id is empty")
	}
	if !StatusStarted.CanTransition(out.Status) {
		return nil, failure.New(failure.KindInvalidArgument, op, "invalid terminal status %q", out.Status)
	}

	var (
		artifactPath   any
		artifactDigest any
		artifactSize   int64
		lastError      any
	)
	if out.Status.HasArtifact() {
		if out.ArtifactPath == "" {
			return nil, failure.New(failure.KindInvalidArgument, op, "status %s requires an artifact path", out.Status)
		}
		artifactPath = out.ArtifactPath
		artifactSize = out.ArtifactSize
		if out.ArtifactDigest != "" {
			artifactDigest = out.ArtifactDigest
		}
	}
	if out.Error != "" {
		lastError = out.Error
	}
	failed, err := encodeList(out.FailedTools)
	if err != nil {
		return nil, fmt.Errorf("%s: encode failed tools: %w", op, err)
	}

	endedAt := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
UPDATE archive_job
SET status = ?, artifact_path = ?, artifact_size = ?, artifact_digest = ?,
    failed_tools = ?, last_error = ?, ended_at = ?
WHERE id = ? AND status = ?;
`, out.Status, artifactPath, artifactSize, artifactDigest, failed, lastError, endedAt, id, StatusStarted)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, failure.New(failure.KindArchiveInactive, op, "archive %q is already %s", id, cur.Status)
	}
	return s.Get(ctx, id)
}

// Get returns the job with id.
func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM archive_job WHERE id = ?;`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, failure.New(failure.KindArchiveNotFound, "get archive job", "archive %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get archive job: %w", err)
	}
	return j, nil
}

// Current returns the STARTED job for siteID, or (nil, nil) when none runs.
func (s *SQLStore) Current(ctx context.Context, siteID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM archive_job WHERE site_id = ? AND status = ?;`,
		siteID, StatusStarted)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current archive job: %w", err)
	}
	return j, nil
}

// List returns the most recent jobs for siteID, newest first.
func (s *SQLStore) List(ctx context.Context, siteID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM archive_job
WHERE site_id = ?
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, siteID, limit)
	if err != nil {
		return nil, fmt.Errorf("list archive jobs: %w", err)
	}
	return collect(rows)
}

// ListByStatus returns every job in status, oldest first.
func (s *SQLStore) ListByStatus(ctx context.Context, status Status) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM archive_job
WHERE status = ?
ORDER BY started_at ASC, rowid ASC;
`, status)
	if err != nil {
		return nil, fmt.Errorf("list archive jobs by status: %w", err)
	}
	return collect(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j              Job
		statusS        string
		toolsS         string
		failedS        string
		artifactPath   sql.NullString
		artifactDigest sql.NullString
		lastError      sql.NullString
		startedAtS     string
		endedAtS       sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.SiteID, &j.UserID, &statusS, &j.IncludeStudentContent, &toolsS, &failedS,
		&j.RootPath, &artifactPath, &j.ArtifactSize, &artifactDigest, &lastError, &startedAtS, &endedAtS,
	)
	if err != nil {
		return nil, err
	}

	j.Status = Status(statusS)
	if j.Tools, err = decodeList(toolsS); err != nil {
		return nil, fmt.Errorf("decode tools for %q: %w", j.ID, err)
	}
	if j.FailedTools, err = decodeList(failedS); err != nil {
		return nil, fmt.Errorf("decode failed tools for %q: %w", j.ID, err)
	}
	if artifactPath.Valid {
		j.ArtifactPath = &artifactPath.String
	}
	if artifactDigest.Valid {
		j.ArtifactDigest = &artifactDigest.String
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	if j.StartedAt, err = time.Parse(time.RFC3339Nano, startedAtS); err != nil {
		return nil, fmt.Errorf("decode started_at for %q: %w", j.ID, err)
	}
	if endedAtS.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAtS.String)
		if err != nil {
			return nil, fmt.Errorf("decode ended_at for %q: %w", j.ID, err)
		}
		j.EndedAt = &t
	}
	return &j, nil
}

func collect(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archive job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive jobs: %w", err)
	}
	return out, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(raw string) ([]string, error) {
	out := []string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
