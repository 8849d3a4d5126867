package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/archivist/internal/auth"
	"github.com/mattjoyce/archivist/internal/download"
	"github.com/mattjoyce/archivist/internal/events"
	"github.com/mattjoyce/archivist/internal/jobs"
	"github.com/mattjoyce/archivist/internal/registry"
)

// Archives is the orchestrator surface the API drives.
type Archives interface {
	StartArchive(ctx context.Context, siteID, userID string, includeStudentContent bool, toolIDs ...string) (*jobs.Job, error)
	CancelArchive(ctx context.Context, archiveID string) error
	GetArchive(ctx context.Context, archiveID string) (*jobs.Job, error)
	CurrentArchive(ctx context.Context, siteID string) (*jobs.Job, error)
	ListArchives(ctx context.Context, siteID string, limit int) ([]*jobs.Job, error)
}

// ArchiverCatalog lists registered archivers.
type ArchiverCatalog interface {
	Descriptors() []registry.Descriptor
}

// Downloads opens archive artifacts for a user.
type Downloads interface {
	Open(ctx context.Context, userID, archiveID string) (*download.Artifact, error)
}

// EventSource streams archive events.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Deps are the collaborators behind the API.
type Deps struct {
	Archives  Archives
	Archivers ArchiverCatalog
	Downloads Downloads
	Roles     download.Authorizer
	Events    EventSource
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	archives  Archives
	archivers ArchiverCatalog
	downloads Downloads
	roles     download.Authorizer
	events    EventSource
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		archives:  deps.Archives,
		archivers: deps.Archivers,
		downloads: deps.Downloads,
		roles:     deps.Roles,
		events:    deps.Events,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Minute, // large archive downloads
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	read := []string{auth.ScopeArchivesRO, auth.ScopeArchivesRW, auth.ScopeAll}
	write := []string{auth.ScopeArchivesRW, auth.ScopeAll}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(read...)).Get("/openapi.json", s.handleOpenAPI)
		r.With(s.requireScopes(read...)).Get("/archivers", s.handleListArchivers)
		r.With(s.requireScopes(read...)).Get("/events", s.handleEvents)

		r.Route("/sites/{siteID}/archives", func(r chi.Router) {
			r.With(s.requireScopes(write...)).Post("/", s.handleStartArchive)
			r.With(s.requireScopes(read...)).Get("/", s.handleListArchives)
			r.With(s.requireScopes(read...)).Get("/current", s.handleCurrentArchive)
		})

		r.Route("/archives/{archiveID}", func(r chi.Router) {
			r.With(s.requireScopes(read...)).Get("/", s.handleGetArchive)
			r.With(s.requireScopes(write...)).Post("/cancel", s.handleCancelArchive)
			r.With(s.requireScopes(read...)).Get("/download", s.handleDownload)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
