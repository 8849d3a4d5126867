package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/archivist/internal/failure"
	"github.com/mattjoyce/archivist/internal/storage"
)

func openStore(t *testing.T) *SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func createReq(id, site string) CreateRequest {
	return CreateRequest{
		ID:       id,
		SiteID:   site,
		UserID:   "alice",
		RootPath: "/tmp/archives/" + id,
		Tools:    []string{"resources", "siteinfo"},
	}
}

func TestStatusTransitions(t *testing.T) {
	terminal := []Status{StatusComplete, StatusIncomplete, StatusCancelled, StatusFailed}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
		assert.True(t, StatusStarted.CanTransition(s), "STARTED -> %s", s)
		for _, next := range append(terminal, StatusStarted) {
			assert.False(t, s.CanTransition(next), "%s -> %s must be rejected", s, next)
		}
	}
	assert.False(t, StatusStarted.Terminal())
	assert.False(t, StatusStarted.CanTransition(StatusStarted))
	assert.False(t, Status("bogus").Valid())
	assert.True(t, StatusIncomplete.HasArtifact())
	assert.False(t, StatusFailed.HasArtifact())
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	created, err := s.Create(ctx, createReq("job-1", "site1"))
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, created.Status)

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "site1", got.SiteID)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, StatusStarted, got.Status)
	assert.Equal(t, []string{"resources", "siteinfo"}, got.Tools)
	assert.Empty(t, got.FailedTools)
	assert.Nil(t, got.EndedAt)
	assert.Nil(t, got.ArtifactPath)
	assert.False(t, got.StartedAt.IsZero())

	cur, err := s.Current(ctx, "site1")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "job-1", cur.ID)

	none, err := s.Current(ctx, "site2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.True(t, failure.Is(err, failure.KindArchiveNotFound), "err = %v", err)
}

func TestCreateRejectsSecondActiveJobForSite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	_, err := s.Create(ctx, createReq("job-1", "site1"))
	require.NoError(t, err)

	_, err = s.Create(ctx, createReq("job-2", "site1"))
	assert.True(t, failure.Is(err, failure.KindAlreadyInProgress), "err = %v", err)

	_, err = s.Get(ctx, "job-2")
	assert.True(t, failure.Is(err, failure.KindArchiveNotFound), "rejected job must not be persisted")

	// Other sites are independent.
	_, err = s.Create(ctx, createReq("job-3", "site2"))
	require.NoError(t, err)

	// Once terminal, the site is free again.
	_, err = s.Finish(ctx, "job-1", Outcome{Status: StatusCancelled})
	require.NoError(t, err)
	_, err = s.Create(ctx, createReq("job-4", "site1"))
	require.NoError(t, err)
}

func TestConcurrentCreateAdmitsOneJobPerSite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	const attempts = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create(ctx, createReq(fmt.Sprintf("job-%d", i), "site1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case failure.Is(err, failure.KindAlreadyInProgress):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, attempts-1, rejected)

	started, err := s.ListByStatus(ctx, StatusStarted)
	require.NoError(t, err)
	assert.Len(t, started, 1)
}

func TestFinishRecordsOutcome(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	_, err := s.Create(ctx, createReq("job-1", "site1"))
	require.NoError(t, err)

	done, err := s.Finish(ctx, "job-1", Outcome{
		Status:         StatusIncomplete,
		ArtifactPath:   "/tmp/archives/job-1.zip",
		ArtifactSize:   42,
		ArtifactDigest: "abc123",
		FailedTools:    []string{"broken"},
		Error:          "1 of 2 archivers failed",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, done.Status)
	require.NotNil(t, done.EndedAt)
	require.NotNil(t, done.ArtifactPath)
	assert.Equal(t, "/tmp/archives/job-1.zip", *done.ArtifactPath)
	assert.EqualValues(t, 42, done.ArtifactSize)
	require.NotNil(t, done.ArtifactDigest)
	assert.Equal(t, "abc123", *done.ArtifactDigest)
	assert.Equal(t, []string{"broken"}, done.FailedTools)
	require.NotNil(t, done.LastError)

	// Terminal jobs are immutable.
	_, err = s.Finish(ctx, "job-1", Outcome{Status: StatusComplete, ArtifactPath: "/x.zip"})
	assert.True(t, failure.Is(err, failure.KindArchiveInactive), "err = %v", err)
}

func TestFinishFailedLeavesArtifactUnset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	_, err := s.Create(ctx, createReq("job-1", "site1"))
	require.NoError(t, err)

	done, err := s.Finish(ctx, "job-1", Outcome{
		Status:       StatusFailed,
		ArtifactPath: "/should/be/ignored.zip",
		Error:        "zip failed",
	})
	require.NoError(t, err)
	assert.Nil(t, done.ArtifactPath)
	assert.Nil(t, done.ArtifactDigest)
	assert.NotNil(t, done.EndedAt)
}

func TestCorruptTimestampsSurfaceAsErrors(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, createReq("job-1", "site-a"))
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE archive_job SET started_at = 'yesterday' WHERE id = ?;`, "job-1")
	require.NoError(t, err)

	_, err = s.Get(ctx, "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "started_at")

	_, err = s.List(ctx, "site-a", 10)
	assert.Error(t, err)

	_, err = s.Create(ctx, createReq("job-2", "site-b"))
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE archive_job SET status = ?, ended_at = '' WHERE id = ?;`, StatusFailed, "job-2")
	require.NoError(t, err)

	_, err = s.Get(ctx, "job-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ended_at")
}

func TestFinishValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	_, err := s.Create(ctx, createReq("job-1", "site1"))
	require.NoError(t, err)

	_, err = s.Finish(ctx, "job-1", Outcome{Status: StatusStarted})
	assert.True(t, failure.Is(err, failure.KindInvalidArgument))

	_, err = s.Finish(ctx, "job-1", Outcome{Status: StatusComplete})
	assert.True(t, failure.Is(err, failure.KindInvalidArgument), "COMPLETE without artifact must be rejected")

	_, err = s.Finish(ctx, "missing", Outcome{Status: StatusCancelled})
	assert.True(t, failure.Is(err, failure.KindArchiveNotFound))
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("job-%d", i)
		_, err := s.Create(ctx, createReq(id, "site1"))
		require.NoError(t, err)
		_, err = s.Finish(ctx, id, Outcome{Status: StatusCancelled})
		require.NoError(t, err)
	}

	list, err := s.List(ctx, "site1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "job-3", list[0].ID)
	assert.Equal(t, "job-2", list[1].ID)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	req := createReq("job-1", "site1")
	req.SiteID = ""
	_, err := s.Create(context.Background(), req)
	assert.True(t, failure.Is(err, failure.KindInvalidArgument))
}
