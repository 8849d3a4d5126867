package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/archivist/internal/events"
	"github.com/mattjoyce/archivist/internal/failure"
	"github.com/mattjoyce/archivist/internal/index"
	"github.com/mattjoyce/archivist/internal/jobs"
	"github.com/mattjoyce/archivist/internal/log"
	"github.com/mattjoyce/archivist/internal/pack"
	"github.com/mattjoyce/archivist/internal/registry"
	"github.com/mattjoyce/archivist/internal/workspace"
)

const (
	interruptedReason = "interrupted: process exited before the archive finished"
	maxLinkDepth      = 8
)

// ContentWriter stores archiver output under a job's archive root.
type ContentWriter interface {
	Write(ctx context.Context, jobID, label string, data []byte, filename string, subdirs ...string) (string, error)
}

// Packager zips an archive root.
type Packager interface {
	Pack(ctx context.Context, dir, name string) (pack.Artifact, error)
}

// SiteDirectory resolves site metadata.
type SiteDirectory interface {
	SiteTitle(siteID string) string
}

// Deps are the collaborators a Service needs.
type Deps struct {
	Store      jobs.Store
	Registry   *registry.Registry
	Workspaces workspace.Manager
	Writer     ContentWriter
	Packager   Packager
	Sites      SiteDirectory
	Events     events.Publisher
}

// Options tune a Service.
type Options struct {
	// ProviderTimeout bounds each archiver call; 0 means no limit.
	ProviderTimeout time.Duration
	// NewID generates job ids. Defaults to uuid v4.
	NewID func() string
}

type run struct {
	job       *jobs.Job
	cancelled atomic.Bool
	done      chan struct{}
}

// Service is the archive orchestrator.
type Service struct {
	store      jobs.Store
	registry   *registry.Registry
	workspaces workspace.Manager
	writer     ContentWriter
	packager   Packager
	sites      SiteDirectory
	events     events.Publisher
	timeout    time.Duration
	newID      func() string
	logger     *slog.Logger

	siteLocks keyedMutex

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup

	baseCtx context.Context
	stop    context.CancelFunc
}

var _ registry.Sink = (*Service)(nil)

// New builds a Service.
func New(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator: job store is required")
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case deps.Workspaces == nil:
		return nil, errors.New("orchestrator: workspace manager is required")
	case deps.Writer == nil:
		return nil, errors.New("orchestrator: content writer is required")
	case deps.Packager == nil:
		return nil, errors.New("orchestrator: packager is required")
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &Service{
		store:      deps.Store,
		registry:   deps.Registry,
		workspaces: deps.Workspaces,
		writer:     deps.Writer,
		packager:   deps.Packager,
		sites:      deps.Sites,
		events:     deps.Events,
		timeout:    opts.ProviderTimeout,
		newID:      opts.NewID,
		logger:     log.WithComponent("orchestrator"),
		runs:       make(map[string]*run),
		baseCtx:    baseCtx,
		stop:       stop,
	}, nil
}

// IsArchiveInProgress reports whether siteID has a STARTED job.
func (s *Service) IsArchiveInProgress(ctx context.Context, siteID string) (bool, error) {
	cur, err := s.store.Current(ctx, siteID)
	if err != nil {
		return false, err
	}
	return cur != nil, nil
}

// StartArchive creates a job for siteID and runs the requested tools in the
// background. The returned job is in STARTED state.
func (s *Service) StartArchive(ctx context.Context, siteID, userID string, includeStudentContent bool, toolIDs ...string) (*jobs.Job, error) {
	const op = "start archive"

	tools := dedupe(toolIDs)
	if len(tools) == 0 {
		return nil, failure.New(failure.KindNoToolsSpecified, op, "no tools specified")
	}
	if strings.TrimSpace(siteID) == "" {
		return nil, failure.New(failure.KindInvalidArgument, op, "site id is empty")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, failure.New(failure.KindInvalidArgument, op, "user id is empty")
	}

	unlock := s.siteLocks.Lock(siteID)
	defer unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, failure.New(failure.KindInitFailed, op, "orchestrator is shutting down")
	}

	inProgress, err := s.IsArchiveInProgress(ctx, siteID)
	if err != nil {
		return nil, failure.Wrap(failure.KindInitFailed, op, err)
	}
	if inProgress {
		return nil, failure.New(failure.KindAlreadyInProgress, op, "an archive is already in progress for site %q", siteID)
	}

	id := s.newID()
	root, err := s.workspaces.RootPath(id)
	if err != nil {
		return nil, failure.Wrap(failure.KindInitFailed, op, err)
	}

	job, err := s.store.Create(ctx, jobs.CreateRequest{
		ID:                    id,
		SiteID:                siteID,
		UserID:                userID,
		RootPath:              root,
		IncludeStudentContent: includeStudentContent,
		Tools:                 tools,
	})
	if err != nil {
		if failure.Is(err, failure.KindAlreadyInProgress) {
			return nil, err
		}
		return nil, failure.Wrap(failure.KindInitFailed, op, err)
	}

	logger := log.WithJob(id).With("site_id", siteID, "user_id", userID)

	if _, err := s.workspaces.Create(ctx, id); err != nil {
		logger.Error("failed to create archive root", "error", err)
		if _, ferr := s.store.Finish(context.WithoutCancel(ctx), id, jobs.Outcome{
			Status: jobs.StatusFailed,
			Error:  fmt.Sprintf("create archive root: %v", err),
		}); ferr != nil {
			logger.Error("failed to mark job failed", "error", ferr)
		}
		return nil, failure.Wrap(failure.KindInitFailed, op, err)
	}

	r := &run{job: job, done: make(chan struct{})}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if _, ferr := s.store.Finish(context.WithoutCancel(ctx), id, jobs.Outcome{
			Status: jobs.StatusFailed,
			Error:  "orchestrator shut down before the archive ran",
		}); ferr != nil {
			logger.Error("failed to mark job failed", "error", ferr)
		}
		return nil, failure.New(failure.KindInitFailed, op, "orchestrator is shutting down")
	}
	s.runs[id] = r
	s.wg.Add(1)
	s.mu.Unlock()

	logger.Info("archive started", "tools", tools, "include_student_content", includeStudentContent)
	s.events.Publish(events.ArchiveStarted, events.Payload{ArchiveID: id, SiteID: siteID, UserID: userID, Status: string(job.Status)})

	go s.dispatch(s.baseCtx, r)

	out := *job
	return &out, nil
}

// CancelArchive requests cancellation of a STARTED job. A job running in this
// process stops before its next archiver; a STARTED job with no live run is
// marked CANCELLED directly.
func (s *Service) CancelArchive(ctx context.Context, archiveID string) error {
	const op = "cancel archive"

	job, err := s.store.Get(ctx, archiveID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return failure.New(failure.KindNotCancellable, op, "archive %q is already %s", archiveID, job.Status)
	}

	s.mu.Lock()
	r := s.runs[archiveID]
	s.mu.Unlock()
	if r != nil {
		r.cancelled.Store(true)
		log.WithJob(archiveID).Info("cancellation requested")
		return nil
	}

	_, err = s.store.Finish(ctx, archiveID, jobs.Outcome{Status: jobs.StatusCancelled, Error: "cancelled with no active run"})
	if failure.Is(err, failure.KindArchiveInactive) {
		return failure.New(failure.KindNotCancellable, op, "archive %q is no longer running", archiveID)
	}
	return err
}

// ArchiveContent stores archiver output for an active job belonging to siteID.
func (s *Service) ArchiveContent(ctx context.Context, jobID, siteID, label string, data []byte, filename string, subdirs ...string) error {
	const op = "archive content"

	job, err := s.activeJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.SiteID != siteID {
		return failure.New(failure.KindInvalidArgument, op, "archive %q does not belong to site %q", jobID, siteID)
	}

	path, err := s.writer.Write(ctx, jobID, label, data, filename, subdirs...)
	if err != nil {
		return err
	}
	log.WithJob(jobID).Debug("archived content", "label", label, "path", path, "bytes", len(data))
	return nil
}

// GetToolName resolves the display name of toolID. Linked tools take their
// parent's name so their output groups with it.
func (s *Service) GetToolName(siteID, toolID string) string {
	return s.toolName(siteID, toolID, 0)
}

func (s *Service) toolName(siteID, toolID string, depth int) string {
	a, ok := s.registry.Get(toolID)
	if !ok {
		return toolID
	}
	if l, ok := a.(registry.Linked); ok && depth < maxLinkDepth {
		if parent := l.LinkedToolID(); parent != "" && parent != toolID {
			return s.toolName(siteID, parent, depth+1)
		}
	}
	if n, ok := a.(registry.ToolNamer); ok {
		if name := n.ToolName(siteID, toolID); name != "" {
			return name
		}
	}
	if n, ok := a.(registry.Named); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return toolID
}

// GetSiteHeader returns "<site title>: <tool name>".
func (s *Service) GetSiteHeader(siteID, toolID string) string {
	return s.siteTitle(siteID) + ": " + s.GetToolName(siteID, toolID)
}

// GetArchive returns the job with archiveID.
func (s *Service) GetArchive(ctx context.Context, archiveID string) (*jobs.Job, error) {
	return s.store.Get(ctx, archiveID)
}

// CurrentArchive returns siteID's STARTED job, or nil.
func (s *Service) CurrentArchive(ctx context.Context, siteID string) (*jobs.Job, error) {
	return s.store.Current(ctx, siteID)
}

// ListArchives returns siteID's jobs, newest first.
func (s *Service) ListArchives(ctx context.Context, siteID string, limit int) ([]*jobs.Job, error) {
	return s.store.List(ctx, siteID, limit)
}

// Wait blocks until the in-process run of archiveID ends, then returns the
// stored job.
func (s *Service) Wait(ctx context.Context, archiveID string) (*jobs.Job, error) {
	s.mu.Lock()
	r := s.runs[archiveID]
	s.mu.Unlock()
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.store.Get(ctx, archiveID)
}

// Recover fails STARTED jobs that have no run in this process, such as those
// left behind by a crash. It returns how many were recovered.
func (s *Service) Recover(ctx context.Context) (int, error) {
	started, err := s.store.ListByStatus(ctx, jobs.StatusStarted)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}

	n := 0
	for _, job := range started {
		s.mu.Lock()
		_, live := s.runs[job.ID]
		s.mu.Unlock()
		if live {
			continue
		}
		if _, err := s.store.Finish(ctx, job.ID, jobs.Outcome{Status: jobs.StatusFailed, Error: interruptedReason}); err != nil {
			if failure.Is(err, failure.KindArchiveInactive) {
				continue
			}
			return n, fmt.Errorf("recover %s: %w", job.ID, err)
		}
		log.WithJob(job.ID).Warn("recovered orphaned archive", "site_id", job.SiteID)
		n++
	}
	return n, nil
}

// Shutdown cancels every running job and waits for their runs to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, r := range s.runs {
		r.cancelled.Store(true)
	}
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

func (s *Service) activeJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	s.mu.Lock()
	r := s.runs[jobID]
	s.mu.Unlock()
	if r != nil {
		return r.job, nil
	}

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Active() {
		return nil, failure.New(failure.KindArchiveInactive, "archive content", "archive %q is %s", jobID, job.Status)
	}
	return job, nil
}

func (s *Service) siteTitle(siteID string) string {
	if s.sites != nil {
		if title := s.sites.SiteTitle(siteID); title != "" {
			return title
		}
	}
	return siteID
}

func (s *Service) writeIndex(root, siteID string) error {
	_, err := index.Write(root, s.siteTitle(siteID))
	return err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
