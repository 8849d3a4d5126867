package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/archivist/internal/events"
	"github.com/mattjoyce/archivist/internal/jobs"
	"github.com/mattjoyce/archivist/internal/log"
	"github.com/mattjoyce/archivist/internal/registry"
)

// step is one planned archiver call. archiver is nil for unregistered ids.
type step struct {
	id       string
	archiver registry.Archiver
}

// dispatch runs every requested archiver for r's job and records the outcome.
func (s *Service) dispatch(ctx context.Context, r *run) {
	job := r.job
	logger := log.WithJob(job.ID).With("site_id", job.SiteID)

	defer s.wg.Done()
	defer close(r.done)
	defer func() {
		s.mu.Lock()
		delete(s.runs, job.ID)
		s.mu.Unlock()
	}()

	req := registry.Request{
		JobID:                 job.ID,
		SiteID:                job.SiteID,
		IncludeStudentContent: job.IncludeStudentContent,
	}

	var failed []string
	cancelled := false
	for _, st := range s.plan(job.Tools) {
		if r.cancelled.Load() || ctx.Err() != nil {
			cancelled = true
			break
		}

		toolLogger := logger.With("archiver", st.id)
		payload := events.Payload{ArchiveID: job.ID, SiteID: job.SiteID, Tool: st.id}

		if st.archiver == nil {
			toolLogger.Warn("archiver not registered, skipping")
			failed = append(failed, st.id)
			payload.Error = "archiver not registered"
			s.events.Publish(events.ToolSkipped, payload)
			continue
		}

		s.events.Publish(events.ToolStarted, payload)
		started := time.Now()
		err := s.invoke(ctx, st.archiver, req)
		payload.Duration = time.Since(started).String()
		if err != nil {
			toolLogger.Error("archiver failed", "error", err, "duration", payload.Duration)
			failed = append(failed, st.id)
			payload.Error = err.Error()
			s.events.Publish(events.ToolFailed, payload)
			continue
		}
		toolLogger.Info("archiver completed", "duration", payload.Duration)
		s.events.Publish(events.ToolCompleted, payload)
	}
	if r.cancelled.Load() || ctx.Err() != nil {
		cancelled = true
	}

	out := s.finalize(ctx, job, failed, cancelled, logger)

	final, err := s.store.Finish(context.WithoutCancel(ctx), job.ID, out)
	if err != nil {
		logger.Error("failed to record archive outcome", "status", out.Status, "error", err)
		return
	}
	logger.Info("archive finished", "status", final.Status, "failed_tools", final.FailedTools)
	s.events.Publish(events.ArchiveFinished, events.Payload{
		ArchiveID: job.ID,
		SiteID:    job.SiteID,
		Status:    string(final.Status),
		Error:     out.Error,
	})
}

// finalize turns the dispatch result into a terminal outcome, packaging the
// archive root unless the run was cancelled.
func (s *Service) finalize(ctx context.Context, job *jobs.Job, failed []string, cancelled bool, logger *slog.Logger) jobs.Outcome {
	if cancelled {
		reason := "cancelled by request"
		if ctx.Err() != nil {
			reason = "cancelled by shutdown"
		}
		logger.Info("archive cancelled, skipping packaging", "reason", reason)
		return jobs.Outcome{Status: jobs.StatusCancelled, FailedTools: failed, Error: reason}
	}

	s.events.Publish(events.ArchivePackaging, events.Payload{ArchiveID: job.ID, SiteID: job.SiteID})

	if err := s.writeIndex(job.RootPath, job.SiteID); err != nil {
		logger.Error("failed to build index", "error", err)
		return jobs.Outcome{Status: jobs.StatusFailed, FailedTools: failed, Error: fmt.Sprintf("build index: %v", err)}
	}

	name, err := s.workspaces.ArtifactBase(job.ID)
	if err != nil {
		return jobs.Outcome{Status: jobs.StatusFailed, FailedTools: failed, Error: err.Error()}
	}
	art, err := s.packager.Pack(ctx, job.RootPath, name)
	if err != nil {
		logger.Error("failed to package archive", "error", err)
		return jobs.Outcome{Status: jobs.StatusFailed, FailedTools: failed, Error: err.Error()}
	}
	logger.Info("archive packaged", "artifact", art.Path, "bytes", art.Size)

	out := jobs.Outcome{
		Status:         jobs.StatusComplete,
		ArtifactPath:   art.Path,
		ArtifactSize:   art.Size,
		ArtifactDigest: art.Digest,
		FailedTools:    failed,
	}
	if len(failed) > 0 {
		out.Status = jobs.StatusIncomplete
		out.Error = fmt.Sprintf("%d of %d tools failed: %s", len(failed), len(job.Tools), strings.Join(failed, ", "))
	}
	return out
}

// invoke calls one archiver, bounding it by the provider timeout and turning
// a panic into an error.
func (s *Service) invoke(ctx context.Context, a registry.Archiver, req registry.Request) (err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("archiver panicked: %v", p)
			s.logger.Debug("archiver panic stack", "stack", string(debug.Stack()))
		}
	}()
	return a.Archive(ctx, req, s)
}

// plan resolves tool ids against the registry, in request order, with each
// linked archiver moved directly after the tool it links to when both were
// requested.
func (s *Service) plan(toolIDs []string) []step {
	requested := make(map[string]bool, len(toolIDs))
	for _, id := range toolIDs {
		requested[id] = true
	}

	resolved := make(map[string]registry.Archiver, len(toolIDs))
	children := make(map[string][]string)
	linked := make(map[string]bool)
	for _, id := range toolIDs {
		a, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		resolved[id] = a
		if l, ok := a.(registry.Linked); ok {
			if parent := l.LinkedToolID(); parent != "" && parent != id && requested[parent] {
				children[parent] = append(children[parent], id)
				linked[id] = true
			}
		}
	}

	out := make([]step, 0, len(toolIDs))
	emitted := make(map[string]bool, len(toolIDs))
	var emit func(id string)
	emit = func(id string) {
		if emitted[id] {
			return
		}
		emitted[id] = true
		out = append(out, step{id: id, archiver: resolved[id]})
		for _, child := range children[id] {
			emit(child)
		}
	}
	for _, id := range toolIDs {
		if !linked[id] {
			emit(id)
		}
	}
	// Link cycles have no root; run them in request order.
	for _, id := range toolIDs {
		emit(id)
	}
	return out
}
