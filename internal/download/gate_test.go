package download_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/archivist/internal/download"
	"github.com/mattjoyce/archivist/internal/download/mocks"
	"github.com/mattjoyce/archivist/internal/failure"
	"github.com/mattjoyce/archivist/internal/jobs"
	"github.com/mattjoyce/archivist/internal/storage"
)

func setup(t *testing.T) (*jobs.SQLStore, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return jobs.NewStore(db), dir
}

func finished(t *testing.T, store *jobs.SQLStore, id string, status jobs.Status, artifact string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.Create(ctx, jobs.CreateRequest{ID: id, SiteID: "bio101", UserID: "alice", RootPath: "/tmp/" + id})
	require.NoError(t, err)
	if status == jobs.StatusStarted {
		return
	}
	_, err = store.Finish(ctx, id, jobs.Outcome{Status: status, ArtifactPath: artifact, ArtifactSize: 5, ArtifactDigest: "abc123"})
	require.NoError(t, err)
}

func TestOpenStreamsArtifact(t *testing.T) {
	store, dir := setup(t)
	zipPath := filepath.Join(dir, "job-1.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("PK..."), 0o644))
	finished(t, store, "job-1", jobs.StatusIncomplete, zipPath)

	ctrl := gomock.NewController(t)
	authz := mocks.NewMockAuthorizer(ctrl)
	authz.EXPECT().CanMaintain(gomock.Any(), "alice", "bio101").Return(true)

	art, err := download.NewGate(store, authz).Open(context.Background(), "alice", "job-1")
	require.NoError(t, err)
	defer art.Close()

	body, err := io.ReadAll(art)
	require.NoError(t, err)
	assert.Equal(t, "PK...", string(body))
	assert.Equal(t, "job-1.zip", art.Name)
	assert.Equal(t, int64(5), art.Size)
	assert.Equal(t, "abc123", art.Digest)
	assert.Equal(t, jobs.StatusIncomplete, art.Status)
}

func TestOpenDeniesNonMaintainer(t *testing.T) {
	store, dir := setup(t)
	zipPath := filepath.Join(dir, "job-1.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("PK"), 0o644))
	finished(t, store, "job-1", jobs.StatusComplete, zipPath)

	ctrl := gomock.NewController(t)
	authz := mocks.NewMockAuthorizer(ctrl)
	authz.EXPECT().CanMaintain(gomock.Any(), "mallory", "bio101").Return(false)

	_, err := download.NewGate(store, authz).Open(context.Background(), "mallory", "job-1")
	assert.True(t, failure.Is(err, failure.KindPermissionDenied))
}

func TestOpenDeletedArtifactIsMissing(t *testing.T) {
	store, dir := setup(t)
	zipPath := filepath.Join(dir, "job-1.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("PK"), 0o644))
	finished(t, store, "job-1", jobs.StatusComplete, zipPath)
	require.NoError(t, os.Remove(zipPath))

	ctrl := gomock.NewController(t)
	authz := mocks.NewMockAuthorizer(ctrl)
	authz.EXPECT().CanMaintain(gomock.Any(), "alice", "bio101").Return(true)

	_, err := download.NewGate(store, authz).Open(context.Background(), "alice", "job-1")
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindArtifactMissing))
	assert.False(t, failure.Is(err, failure.KindArchiveNotFound))
}

func TestOpenWithoutArtifactIsNotFound(t *testing.T) {
	store, _ := setup(t)
	finished(t, store, "failed", jobs.StatusFailed, "")
	finished(t, store, "running", jobs.StatusStarted, "")

	ctrl := gomock.NewController(t)
	authz := mocks.NewMockAuthorizer(ctrl)
	gate := download.NewGate(store, authz)

	for _, id := range []string{"running", "failed", "unknown"} {
		_, err := gate.Open(context.Background(), "alice", id)
		assert.True(t, failure.Is(err, failure.KindArchiveNotFound), id)
	}
}
