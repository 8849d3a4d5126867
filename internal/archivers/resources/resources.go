// Package resources archives the files of a site's resources directory.
package resources

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mattjoyce/archivist/internal/config"
	"github.com/mattjoyce/archivist/internal/failure"
	"github.com/mattjoyce/archivist/internal/log"
	"github.com/mattjoyce/archivist/internal/registry"
)

// ID is the tool id this archiver registers under.
const ID = "resources"

// Sites resolves site configuration.
type Sites interface {
	Site(siteID string) (config.SiteConf, bool)
}

// Archiver copies a site's resources tree into the archive. Top-level folders
// listed as student folders are copied only when student content is requested.
type Archiver struct {
	sites  Sites
	logger *slog.Logger
}

var _ registry.Extended = (*Archiver)(nil)

// New builds the archiver.
func New(sites Sites) *Archiver {
	return &Archiver{sites: sites, logger: log.WithArchiver(ID)}
}

func (a *Archiver) ToolID() string { return ID }
func (a *Archiver) Name() string   { return "Resources" }

// Archive walks the site's resources directory and hands every file to sink.
// Files rejected by the content policy are logged and skipped.
func (a *Archiver) Archive(ctx context.Context, req registry.Request, sink registry.Sink) error {
	site, ok := a.sites.Site(req.SiteID)
	if !ok {
		return fmt.Errorf("site %q is not configured", req.SiteID)
	}
	logger := a.logger.With("archive_id", req.JobID, "site_id", req.SiteID)
	if strings.TrimSpace(site.ResourcesDir) == "" {
		logger.Info("site has no resources directory")
		return nil
	}

	root := filepath.Clean(site.ResourcesDir)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("resources directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("resources directory %q is not a directory", root)
	}

	label := sink.GetToolName(req.SiteID, ID)
	var copied, skipped int

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")

		if d.IsDir() {
			if len(parts) == 1 && !req.IncludeStudentContent && slices.Contains(site.StudentDirs, parts[0]) {
				logger.Debug("skipping student folder", "folder", parts[0])
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %q: %w", rel, err)
		}
		err = sink.ArchiveContent(ctx, req.JobID, req.SiteID, label, data, parts[len(parts)-1], parts[:len(parts)-1]...)
		switch {
		case err == nil:
			copied++
		case isPolicyViolation(err):
			skipped++
			logger.Warn("resource skipped by content policy", "file", rel, "error", err)
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("resources archived", "copied", copied, "skipped", skipped)
	return nil
}

func isPolicyViolation(err error) bool {
	return failure.Is(err, failure.KindFileSizeExceeded) || failure.Is(err, failure.KindFileExtensionExcluded)
}

// Register adds the archiver to reg.
func Register(reg *registry.Registry, sites Sites) error {
	return reg.Register(ID, New(sites))
}

// Unregister removes the archiver from reg.
func Unregister(reg *registry.Registry) {
	reg.Unregister(ID)
}

