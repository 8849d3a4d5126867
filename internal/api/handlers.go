package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/archivist/internal/failure"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		ArchiversLoaded: len(s.archivers.Descriptors()),
	})
}

// handleListArchivers handles GET /archivers.
func (s *Server) handleListArchivers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ArchiverListResponse{Archivers: s.archivers.Descriptors()})
}

// handleStartArchive handles POST /sites/{siteID}/archives.
func (s *Server) handleStartArchive(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	if !s.canMaintain(r, siteID) {
		s.writeError(w, http.StatusForbidden, "not a maintainer of this site")
		return
	}

	var req StartArchiveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := s.archives.StartArchive(r.Context(), siteID, userFrom(r), req.IncludeStudentContent, req.Tools...)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Location", "/archives/"+job.ID)
	respondJSON(w, http.StatusAccepted, newArchiveResponse(job))
}

// handleListArchives handles GET /sites/{siteID}/archives.
func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	if !s.canMaintain(r, siteID) {
		s.writeError(w, http.StatusForbidden, "not a maintainer of this site")
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	list, err := s.archives.ListArchives(r.Context(), siteID, limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	resp := ArchiveListResponse{Archives: make([]ArchiveResponse, 0, len(list))}
	for _, j := range list {
		resp.Archives = append(resp.Archives, newArchiveResponse(j))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCurrentArchive handles GET /sites/{siteID}/archives/current.
func (s *Server) handleCurrentArchive(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	if !s.canMaintain(r, siteID) {
		s.writeError(w, http.StatusForbidden, "not a maintainer of this site")
		return
	}

	job, err := s.archives.CurrentArchive(r.Context(), siteID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "no archive in progress")
		return
	}
	respondJSON(w, http.StatusOK, newArchiveResponse(job))
}

// handleGetArchive handles GET /archives/{archiveID}.
func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	job, err := s.archives.GetArchive(r.Context(), chi.URLParam(r, "archiveID"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if !s.canMaintain(r, job.SiteID) {
		s.writeError(w, http.StatusForbidden, "not a maintainer of this site")
		return
	}
	respondJSON(w, http.StatusOK, newArchiveResponse(job))
}

// handleCancelArchive handles POST /archives/{archiveID}/cancel.
func (s *Server) handleCancelArchive(w http.ResponseWriter, r *http.Request) {
	archiveID := chi.URLParam(r, "archiveID")
	job, err := s.archives.GetArchive(r.Context(), archiveID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if !s.canMaintain(r, job.SiteID) {
		s.writeError(w, http.StatusForbidden, "not a maintainer of this site")
		return
	}
	if err := s.archives.CancelArchive(r.Context(), archiveID); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	job, err = s.archives.GetArchive(r.Context(), archiveID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, newArchiveResponse(job))
}

// handleDownload handles GET /archives/{archiveID}/download.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	archiveID := chi.URLParam(r, "archiveID")
	art, err := s.downloads.Open(r.Context(), userFrom(r), archiveID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer art.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	w.Header().Set("X-Archive-Status", string(art.Status))
	if art.Digest != "" {
		w.Header().Set("ETag", `"`+art.Digest+`"`)
	}
	http.ServeContent(w, r, art.Name, time.Unix(art.ModTime, 0), art)
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.archivers.Descriptors()))
}

// statusForKind maps a failure kind to its HTTP status.
func statusForKind(kind failure.Kind) int {
	switch kind {
	case failure.KindAlreadyInProgress, failure.KindNotCancellable,
		failure.KindArchiveInactive, failure.KindDuplicateArchiver:
		return http.StatusConflict
	case failure.KindNoToolsSpecified, failure.KindInvalidArgument:
		return http.StatusBadRequest
	case failure.KindArchiveNotFound:
		return http.StatusNotFound
	case failure.KindPermissionDenied:
		return http.StatusForbidden
	case failure.KindArtifactMissing:
		return http.StatusGone
	case failure.KindFileSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case failure.KindFileExtensionExcluded:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure reports err with the status its kind maps to. Untyped errors
// are logged and surface as a generic 500.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	kind := failure.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "kind", kind, "error", err)
		s.writeError(w, status, "internal error")
		return
	}
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(kind)})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
