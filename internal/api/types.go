package api

import (
	"time"

	"github.com/mattjoyce/archivist/internal/jobs"
	"github.com/mattjoyce/archivist/internal/registry"
)

// StartArchiveRequest is the JSON body for POST /sites/{siteID}/archives.
type StartArchiveRequest struct {
	Tools                 []string `json:"tools"`
	IncludeStudentContent bool     `json:"include_student_content"`
}

// ArtifactInfo describes a packaged archive.
type ArtifactInfo struct {
	Size        int64  `json:"size"`
	Digest      string `json:"digest,omitempty"`
	DownloadURL string `json:"download_url"`
}

// ArchiveResponse is one archive job.
type ArchiveResponse struct {
	ID                    string        `json:"id"`
	SiteID                string        `json:"site_id"`
	UserID                string        `json:"user_id"`
	Status                string        `json:"status"`
	Tools                 []string      `json:"tools"`
	FailedTools           []string      `json:"failed_tools"`
	IncludeStudentContent bool          `json:"include_student_content"`
	Artifact              *ArtifactInfo `json:"artifact,omitempty"`
	Error                 string        `json:"error,omitempty"`
	StartedAt             time.Time     `json:"started_at"`
	EndedAt               *time.Time    `json:"ended_at,omitempty"`
}

// ArchiveListResponse is returned by GET /sites/{siteID}/archives.
type ArchiveListResponse struct {
	Archives []ArchiveResponse `json:"archives"`
}

// ArchiverListResponse is returned by GET /archivers.
type ArchiverListResponse struct {
	Archivers []registry.Descriptor `json:"archivers"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	ArchiversLoaded int    `json:"archivers_loaded"`
}

func newArchiveResponse(j *jobs.Job) ArchiveResponse {
	resp := ArchiveResponse{
		ID:                    j.ID,
		SiteID:                j.SiteID,
		UserID:                j.UserID,
		Status:                string(j.Status),
		Tools:                 nonNil(j.Tools),
		FailedTools:           nonNil(j.FailedTools),
		IncludeStudentContent: j.IncludeStudentContent,
		StartedAt:             j.StartedAt,
		EndedAt:               j.EndedAt,
	}
	if j.LastError != nil {
		resp.Error = *j.LastError
	}
	if j.Status.HasArtifact() && j.ArtifactPath != nil {
		resp.Artifact = &ArtifactInfo{
			Size:        j.ArtifactSize,
			DownloadURL: "/archives/" + j.ID + "/download",
		}
		if j.ArtifactDigest != nil {
			resp.Artifact.Digest = *j.ArtifactDigest
		}
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
