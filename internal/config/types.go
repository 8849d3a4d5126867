package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete archivist configuration.
type Config struct {
	Service   ServiceConfig           `yaml:"service"`
	State     StateConfig             `yaml:"state"`
	Archive   ArchiveConfig           `yaml:"archive"`
	API       APIConfig               `yaml:"api,omitempty"`
	Admins    []string                `yaml:"admins,omitempty"`
	Sites     map[string]SiteConf     `yaml:"sites,omitempty"`
	Archivers map[string]ArchiverConf `yaml:"archivers,omitempty"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`
}

// StateConfig defines job store settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ArchiveConfig governs where archives are assembled and what content is accepted.
type ArchiveConfig struct {
	RootDir            string        `yaml:"root_dir"`
	MaxFileSize        ByteSize      `yaml:"max_file_size,omitempty"`
	ExcludedExtensions []string      `yaml:"excluded_extensions,omitempty"`
	ProviderTimeout    time.Duration `yaml:"provider_timeout,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token (admin/full access).
	// Prefer Tokens for scoped, per-user access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken binds a bearer token to a user and a set of scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	User   string   `yaml:"user"`
	Scopes []string `yaml:"scopes"`
}

// SiteConf describes a site known to this instance.
type SiteConf struct {
	Title        string   `yaml:"title"`
	Maintainers  []string `yaml:"maintainers,omitempty"`
	ResourcesDir string   `yaml:"resources_dir,omitempty"`
	// StudentDirs are top-level resource folders holding student submissions.
	StudentDirs []string `yaml:"student_dirs,omitempty"`
}

// ArchiverConf toggles a built-in archiver.
type ArchiverConf struct {
	Enabled bool `yaml:"enabled"`
}

// ByteSize is a size in bytes that also accepts "10MB"-style strings.
type ByteSize int64

var byteUnits = []struct {
	suffix string
	mult   int64
}{
	{"KIB", 1 << 10},
	{"MIB", 1 << 20},
	{"GIB", 1 << 30},
	{"KB", 1000},
	{"MB", 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"K", 1 << 10},
	{"M", 1 << 20},
	{"G", 1 << 30},
	{"B", 1},
}

// ParseByteSize parses values such as "512", "64KiB", "10MB".
func ParseByteSize(s string) (ByteSize, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	if raw == "" {
		return 0, nil
	}
	mult := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(raw, u.suffix) {
			mult = u.mult
			raw = strings.TrimSpace(strings.TrimSuffix(raw, u.suffix))
			break
		}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("size must not be negative: %q", s)
	}
	return ByteSize(n * mult), nil
}

func (b *ByteSize) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("size must be a scalar")
	}
	v, err := ParseByteSize(n.Value)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "archivist",
			LogLevel: "info",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Archive: ArchiveConfig{
			RootDir:     "./data/archives",
			MaxFileSize: 100 << 20,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Sites:     make(map[string]SiteConf),
		Archivers: make(map[string]ArchiverConf),
	}
}

// ArchiverEnabled reports whether a built-in archiver should be registered.
// Archivers not mentioned in config are enabled.
func (c *Config) ArchiverEnabled(id string) bool {
	conf, ok := c.Archivers[id]
	if !ok {
		return true
	}
	return conf.Enabled
}

// SiteTitle returns the configured title of siteID, or "" if unknown.
func (c *Config) SiteTitle(siteID string) string {
	return c.Sites[siteID].Title
}

// Site returns the configuration of siteID.
func (c *Config) Site(siteID string) (SiteConf, bool) {
	s, ok := c.Sites[siteID]
	return s, ok
}
