// Package download hands packaged archives to authorised users.
package download

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mattjoyce/archivist/internal/failure"
	"github.com/mattjoyce/archivist/internal/jobs"
	"github.com/mattjoyce/archivist/internal/log"
)

//go:generate mockgen -destination=mocks/mock_authorizer.go -package=mocks github.com/mattjoyce/archivist/internal/download Authorizer

// Authorizer decides whether a user may maintain a site.
type Authorizer interface {
	CanMaintain(ctx context.Context, userID, siteID string) bool
}

// JobReader is the part of the job store the gate reads.
type JobReader interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

// Artifact is an opened archive ready to stream. Callers must Close it.
type Artifact struct {
	io.ReadSeekCloser
	Name    string
	Size    int64
	Digest  string
	Status  jobs.Status
	ModTime int64
}

// Gate authorises and opens archive artifacts.
type Gate struct {
	jobs  JobReader
	authz Authorizer
}

// NewGate builds a Gate.
func NewGate(jobs JobReader, authz Authorizer) *Gate {
	return &Gate{jobs: jobs, authz: authz}
}

// Open returns the artifact of archiveID if userID may maintain its site.
// Jobs without an artifact report KindArchiveNotFound; an artifact recorded
// but gone from disk reports KindArtifactMissing.
func (g *Gate) Open(ctx context.Context, userID, archiveID string) (*Artifact, error) {
	const op = "download archive"

	job, err := g.jobs.Get(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	if !job.Status.HasArtifact() || job.ArtifactPath == nil {
		return nil, failure.New(failure.KindArchiveNotFound, op, "archive %q has no artifact (status %s)", archiveID, job.Status)
	}
	if !g.authz.CanMaintain(ctx, userID, job.SiteID) {
		log.WithJob(archiveID).Warn("download denied", "user_id", userID, "site_id", job.SiteID)
		return nil, failure.New(failure.KindPermissionDenied, op, "user %q may not download archives of site %q", userID, job.SiteID)
	}

	f, err := os.Open(*job.ArtifactPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, failure.Wrap(failure.KindArtifactMissing, op, err)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	art := &Artifact{
		ReadSeekCloser: f,
		Name:           filepath.Base(*job.ArtifactPath),
		Size:           info.Size(),
		Status:         job.Status,
		ModTime:        info.ModTime().Unix(),
	}
	if job.ArtifactDigest != nil {
		art.Digest = *job.ArtifactDigest
	}
	log.WithJob(archiveID).Info("artifact opened", "user_id", userID, "bytes", art.Size)
	return art, nil
}
