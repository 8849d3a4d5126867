package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/archivist/internal/api"
	"github.com/mattjoyce/archivist/internal/archivers/resources"
	"github.com/mattjoyce/archivist/internal/archivers/siteinfo"
	"github.com/mattjoyce/archivist/internal/auth"
	"github.com/mattjoyce/archivist/internal/config"
	"github.com/mattjoyce/archivist/internal/content"
	"github.com/mattjoyce/archivist/internal/download"
	"github.com/mattjoyce/archivist/internal/events"
	"github.com/mattjoyce/archivist/internal/jobs"
	"github.com/mattjoyce/archivist/internal/lock"
	"github.com/mattjoyce/archivist/internal/log"
	"github.com/mattjoyce/archivist/internal/orchestrator"
	"github.com/mattjoyce/archivist/internal/pack"
	"github.com/mattjoyce/archivist/internal/registry"
	"github.com/mattjoyce/archivist/internal/storage"
	"github.com/mattjoyce/archivist/internal/workspace"
)

const shutdownGrace = 30 * time.Second

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, ok := loadConfig(*configPath, stderr)
	if !ok {
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFile)
	logger := log.WithComponent("main")
	logger.Info("archivist starting", "version", version, "config", cfg.SourcePath)

	for setting, path := range map[string]string{"state.path": cfg.State.Path, "archive.root_dir": cfg.Archive.RootDir} {
		if err := storage.RequireLocalFilesystem(path, setting); err != nil {
			logger.Error("unsupported storage location", "error", err)
			return 1
		}
	}

	lockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	store := jobs.NewStore(db)

	ws, err := workspace.NewFSManager(cfg.Archive.RootDir)
	if err != nil {
		logger.Error("failed to initialize archive roots", "root_dir", cfg.Archive.RootDir, "error", err)
		return 1
	}
	if err := os.MkdirAll(ws.BaseDir(), 0o755); err != nil {
		logger.Error("failed to create archive root directory", "root_dir", ws.BaseDir(), "error", err)
		return 1
	}
	if fi, err := storage.Probe(ws.BaseDir()); err == nil {
		logger.Info("archive root ready", "root_dir", ws.BaseDir(), "filesystem", fi.Type, "free_bytes", fi.FreeBytes)
	}

	reg, unregister, err := buildRegistry(cfg)
	if err != nil {
		logger.Error("failed to register archivers", "error", err)
		return 1
	}
	defer unregister()
	logger.Info("archivers registered", "ids", reg.IDs())

	hub := events.NewHub(0)
	svc, err := orchestrator.New(orchestrator.Deps{
		Store:      store,
		Registry:   reg,
		Workspaces: ws,
		Writer: content.NewWriter(ws, content.Policy{
			MaxFileSize:        int64(cfg.Archive.MaxFileSize),
			ExcludedExtensions: cfg.Archive.ExcludedExtensions,
		}),
		Packager: pack.New(),
		Sites:    cfg,
		Events:   hub,
	}, orchestrator.Options{ProviderTimeout: cfg.Archive.ProviderTimeout})
	if err != nil {
		logger.Error("failed to build orchestrator", "error", err)
		return 1
	}

	if n, err := svc.Recover(ctx); err != nil {
		logger.Error("failed to recover interrupted archives", "error", err)
		return 1
	} else if n > 0 {
		logger.Warn("marked interrupted archives as failed", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.API.Enabled {
		roles := auth.NewSiteRoles(cfg.Admins, siteMaintainers(cfg))
		server := api.New(apiConfig(cfg), api.Deps{
			Archives:  svc,
			Archivers: reg,
			Downloads: download.NewGate(store, roles),
			Roles:     roles,
			Events:    hub,
		}, log.WithComponent("api"))
		g.Go(func() error {
			if err := server.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	} else {
		logger.Warn("API disabled; archives can only be observed through logs")
	}

	logger.Info("archivist running (press Ctrl+C to stop)")
	<-gctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("archives still running at shutdown", "error", err)
	}

	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("archivist stopped")
	return 0
}

// buildRegistry registers every built-in archiver enabled in cfg. The
// returned func unregisters them again.
func buildRegistry(cfg *config.Config) (*registry.Registry, func(), error) {
	reg := registry.New()
	var undo []func()
	unregister := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	builtins := []struct {
		id         string
		register   func(*registry.Registry, *config.Config) error
		unregister func(*registry.Registry)
	}{
		{siteinfo.ID, func(r *registry.Registry, c *config.Config) error { return siteinfo.Register(r, c) }, siteinfo.Unregister},
		{resources.ID, func(r *registry.Registry, c *config.Config) error { return resources.Register(r, c) }, resources.Unregister},
	}
	for _, b := range builtins {
		b := b
		if !cfg.ArchiverEnabled(b.id) {
			continue
		}
		if err := b.register(reg, cfg); err != nil {
			unregister()
			return nil, nil, fmt.Errorf("register %s: %w", b.id, err)
		}
		undo = append(undo, func() { b.unregister(reg) })
	}
	return reg, unregister, nil
}

func siteMaintainers(cfg *config.Config) map[string][]string {
	out := make(map[string][]string, len(cfg.Sites))
	for id, site := range cfg.Sites {
		out[id] = site.Maintainers
	}
	return out
}

func apiConfig(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, User: t.User, Scopes: t.Scopes})
	}
	return api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
		Tokens: tokens,
	}
}
