package jobs

import (
	"context"
	"time"
)

// Status is the lifecycle state of an archive job.
type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusComplete   Status = "COMPLETE"
	StatusIncomplete Status = "INCOMPLETE"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusStarted, StatusComplete, StatusIncomplete, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. Terminal jobs are immutable.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusStarted
}

// CanTransition reports whether a job may move from s to next.
// STARTED is the only state with outgoing edges.
func (s Status) CanTransition(next Status) bool {
	return s == StatusStarted && next.Terminal()
}

// HasArtifact reports whether jobs in status s carry a packaged artifact.
func (s Status) HasArtifact() bool {
	return s == StatusComplete || s == StatusIncomplete
}

// Job is one archive run for a site.
type Job struct {
	ID                    string
	SiteID                string
	UserID                string
	Status                Status
	IncludeStudentContent bool
	Tools                 []string
	FailedTools           []string
	RootPath              string
	ArtifactPath          *string
	ArtifactSize          int64
	ArtifactDigest        *string
	LastError             *string
	StartedAt             time.Time
	EndedAt               *time.Time
}

// Active reports whether the job is still running.
func (j *Job) Active() bool {
	return j != nil && j.Status == StatusStarted
}

// CreateRequest describes a job to insert in STARTED state.
type CreateRequest struct {
	ID                    string
	SiteID                string
	UserID                string
	RootPath              string
	IncludeStudentContent bool
	Tools                 []string
}

// Outcome is the terminal result recorded by Finish.
type Outcome struct {
	Status         Status
	ArtifactPath   string
	ArtifactSize   int64
	ArtifactDigest string
	FailedTools    []string
	Error          string
}

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/archivist/internal/jobs Store

// Store persists archive jobs.
//
// Create must reject a second STARTED job for the same site atomically; Finish
// must only move a STARTED job to a terminal status.
type Store interface {
	Create(ctx context.Context, req CreateRequest) (*Job, error)
	Finish(ctx context.Context, id string, out Outcome) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Current(ctx context.Context, siteID string) (*Job, error)
	List(ctx context.Context, siteID string, limit int) ([]*Job, error)
	ListByStatus(ctx context.Context, status Status) ([]*Job, error)
}
