// Package doctor validates archivist configuration before the service starts.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/mattjoyce/archivist/internal/auth"
	"github.com/mattjoyce/archivist/internal/config"
	"github.com/mattjoyce/archivist/internal/registry"
	"github.com/mattjoyce/archivist/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var knownScopes = []string{auth.ScopeAll, auth.ScopeArchivesRO, auth.ScopeArchivesRW}

// Doctor validates configuration against the registered archivers.
type Doctor struct {
	cfg      *config.Config
	registry *registry.Registry
	fsCheck  func(path, setting string) error
}

// New creates a Doctor from a loaded config and archiver registry.
func New(cfg *config.Config, reg *registry.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: reg, fsCheck: storage.RequireLocalFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateStorage(r)
	d.validateArchiveConfig(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateSites(r)
	d.validateArchiverRefs(r)
	d.warnUnknownUsers(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServiceConfig checks required service fields.
func (d *Doctor) validateServiceConfig(r *Result) {
	if strings.TrimSpace(d.cfg.Service.Name) == "" {
		d.addWarning(r, "service", "service.name", "service.name is empty")
	}
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.Archive.RootDir == "" {
		d.addError(r, "service", "archive.root_dir", "archive.root_dir is required")
	}
}

// validateStorage requires local disk for the job store and archive roots.
func (d *Doctor) validateStorage(r *Result) {
	if d.cfg.State.Path != "" {
		if err := d.fsCheck(d.cfg.State.Path, "state.path"); err != nil {
			d.addError(r, "storage", "state.path", err.Error())
		}
	}
	if d.cfg.Archive.RootDir != "" {
		if err := d.fsCheck(d.cfg.Archive.RootDir, "archive.root_dir"); err != nil {
			d.addError(r, "storage", "archive.root_dir", err.Error())
		}
		if info, err := os.Stat(d.cfg.Archive.RootDir); err == nil && !info.IsDir() {
			d.addError(r, "storage", "archive.root_dir", "archive.root_dir exists but is not a directory")
		}
	}
}

// validateArchiveConfig checks the content policy.
func (d *Doctor) validateArchiveConfig(r *Result) {
	a := d.cfg.Archive
	if a.MaxFileSize < 0 {
		d.addError(r, "archive", "archive.max_file_size", "max_file_size must not be negative")
	}
	if a.MaxFileSize == 0 {
		d.addWarning(r, "archive", "archive.max_file_size", "max_file_size is 0; file size is unlimited")
	}
	if a.ProviderTimeout < 0 {
		d.addError(r, "archive", "archive.provider_timeout", "provider_timeout must not be negative")
	}
	seen := map[string]bool{}
	for i, ext := range a.ExcludedExtensions {
		norm := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if seen[norm] {
			d.addWarning(r, "archive", fmt.Sprintf("archive.excluded_extensions[%d]", i),
				fmt.Sprintf("extension %q listed more than once", ext))
		}
		seen[norm] = true
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
}

// validateTokenScopes checks that every token scope is a known scope.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			field := fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j)
			if !slices.Contains(knownScopes, strings.TrimSpace(scope)) {
				d.addError(r, "scopes", field,
					fmt.Sprintf("unknown scope %q (known: %s)", scope, strings.Join(knownScopes, ", ")))
			}
		}
	}
}

// validateSites checks per-site settings.
func (d *Doctor) validateSites(r *Result) {
	if len(d.cfg.Sites) == 0 {
		d.addWarning(r, "sites", "sites", "no sites configured")
	}
	for _, id := range sortedKeys(d.cfg.Sites) {
		site := d.cfg.Sites[id]
		prefix := "sites." + id
		if strings.TrimSpace(site.Title) == "" {
			d.addWarning(r, "sites", prefix+".title", "site has no title; archives will be labelled with the site id")
		}
		if len(site.Maintainers) == 0 && len(d.cfg.Admins) == 0 {
			d.addWarning(r, "sites", prefix+".maintainers", "nobody can download this site's archives")
		}
		if site.ResourcesDir != "" {
			info, err := os.Stat(site.ResourcesDir)
			switch {
			case err != nil:
				d.addError(r, "sites", prefix+".resources_dir", fmt.Sprintf("resources_dir: %v", err))
			case !info.IsDir():
				d.addError(r, "sites", prefix+".resources_dir", "resources_dir is not a directory")
			}
		}
		for i, dir := range site.StudentDirs {
			if strings.ContainsAny(dir, `/\`) || dir == "." || dir == ".." || strings.TrimSpace(dir) == "" {
				d.addError(r, "sites", fmt.Sprintf("%s.student_dirs[%d]", prefix, i),
					fmt.Sprintf("student_dirs entries must be top-level folder names, got %q", dir))
			}
		}
	}
}

// validateArchiverRefs flags archiver toggles that name nothing registered.
func (d *Doctor) validateArchiverRefs(r *Result) {
	if d.registry == nil {
		return
	}
	for _, id := range sortedKeys(d.cfg.Archivers) {
		if !d.cfg.Archivers[id].Enabled {
			continue
		}
		if _, ok := d.registry.Get(id); !ok {
			d.addWarning(r, "archivers", "archivers."+id, fmt.Sprintf("archiver %q is enabled but not registered", id))
		}
	}
}

// warnUnknownUsers flags maintainers with no API token to act as them.
func (d *Doctor) warnUnknownUsers(r *Result) {
	if !d.cfg.API.Enabled || len(d.cfg.API.Auth.Tokens) == 0 {
		return
	}
	users := map[string]bool{}
	for _, t := range d.cfg.API.Auth.Tokens {
		users[t.User] = true
	}
	for _, id := range sortedKeys(d.cfg.Sites) {
		for _, m := range d.cfg.Sites[id].Maintainers {
			if !users[m] {
				d.addWarning(r, "users", "sites."+id+".maintainers",
					fmt.Sprintf("maintainer %q has no API token", m))
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
