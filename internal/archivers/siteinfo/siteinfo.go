// Package siteinfo archives a site's metadata as site.yaml.
package siteinfo

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/archivist/internal/config"
	"github.com/mattjoyce/archivist/internal/registry"
)

// ID is the tool id this archiver registers under.
const ID = "siteinfo"

const fileName = "site.yaml"

// Sites resolves site configuration.
type Sites interface {
	Site(siteID string) (config.SiteConf, bool)
}

// Archiver writes site metadata.
type Archiver struct {
	sites Sites
	now   func() time.Time
}

var _ registry.Extended = (*Archiver)(nil)

// New builds the archiver.
func New(sites Sites) *Archiver {
	return &Archiver{sites: sites, now: time.Now}
}

func (a *Archiver) ToolID() string { return ID }
func (a *Archiver) Name() string   { return "Site Information" }

type document struct {
	Header                string   `yaml:"header"`
	SiteID                string   `yaml:"site_id"`
	Title                 string   `yaml:"title"`
	Maintainers           []string `yaml:"maintainers,omitempty"`
	ArchiveID             string   `yaml:"archive_id"`
	ArchivedAt            string   `yaml:"archived_at"`
	IncludeStudentContent bool     `yaml:"include_student_content"`
}

// Archive writes site.yaml under the tool's section.
func (a *Archiver) Archive(ctx context.Context, req registry.Request, sink registry.Sink) error {
	site, ok := a.sites.Site(req.SiteID)
	if !ok {
		return fmt.Errorf("site %q is not configured", req.SiteID)
	}

	doc := document{
		Header:                sink.GetSiteHeader(req.SiteID, ID),
		SiteID:                req.SiteID,
		Title:                 site.Title,
		Maintainers:           site.Maintainers,
		ArchiveID:             req.JobID,
		ArchivedAt:            a.now().UTC().Format(time.RFC3339),
		IncludeStudentContent: req.IncludeStudentContent,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", fileName, err)
	}
	return sink.ArchiveContent(ctx, req.JobID, req.SiteID, sink.GetToolName(req.SiteID, ID), data, fileName)
}

// Register adds the archiver to reg.
func Register(reg *registry.Registry, sites Sites) error {
	return reg.Register(ID, New(sites))
}

// Unregister removes the archiver from reg.
func Unregister(reg *registry.Registry) {
	reg.Unregister(ID)
}
