package workspace

import (
	"context"
)

// Workspace is the archive root of one job: the directory archivers deposit
// content into before it is packaged.
//
// The job store records the absolute path at creation; the manager owns the
// layout so every job's root and artifact sit side by side under one base
// directory.
type Workspace struct {
	JobID string
	Dir   string
}

// Manager governs archive root lifecycle.
type Manager interface {
	// Create initializes a new, empty archive root for jobID.
	Create(ctx context.Context, jobID string) (Workspace, error)

	// Open resolves an existing archive root for jobID.
	Open(ctx context.Context, jobID string) (Workspace, error)

	// RootPath returns where jobID's archive root lives, without touching disk.
	RootPath(jobID string) (string, error)

	// ArtifactBase returns the artifact file name stem for jobID. The packaged
	// zip is written next to the root as <base dir>/<stem>.zip.
	ArtifactBase(jobID string) (string, error)
}
