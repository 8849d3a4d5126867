package resources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/archivist/internal/config"
	"github.com/mattjoyce/archivist/internal/failure"
	"github.com/mattjoyce/archivist/internal/registry"
)

type siteMap map[string]config.SiteConf

func (m siteMap) Site(id string) (config.SiteConf, bool) {
	s, ok := m[id]
	return s, ok
}

// pathSink records written paths and rejects .exe files like the content policy would.
type pathSink struct {
	paths []string
	err   error
}

func (s *pathSink) ArchiveContent(_ context.Context, _, _, label string, _ []byte, filename string, subdirs ...string) error {
	if s.err != nil {
		return s.err
	}
	if strings.HasSuffix(filename, ".exe") {
		return failure.New(failure.KindFileExtensionExcluded, "archive content", "excluded")
	}
	s.paths = append(s.paths, strings.Join(append(append([]string{label}, subdirs...), filename), "/"))
	return nil
}
func (s *pathSink) GetToolName(_, _ string) string   { return "Resources" }
func (s *pathSink) GetSiteHeader(_, _ string) string { return "Site: Resources" }

func makeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range map[string]string{
		"syllabus.pdf":             "s",
		"Week 1/slides.pdf":        "w",
		"Week 1/tools/setup.exe":   "x",
		"Submissions/alice/hw.txt": "h",
	} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root
}

func TestArchiveSkipsStudentFoldersByDefault(t *testing.T) {
	root := makeTree(t)
	a := New(siteMap{"bio101": {ResourcesDir: root, StudentDirs: []string{"Submissions"}}})

	sink := &pathSink{}
	require.NoError(t, a.Archive(context.Background(), registry.Request{JobID: "j", SiteID: "bio101"}, sink))
	sort.Strings(sink.paths)
	assert.Equal(t, []string{"Resources/Week 1/slides.pdf", "Resources/syllabus.pdf"}, sink.paths)
}

func TestArchiveIncludesStudentFoldersOnRequest(t *testing.T) {
	root := makeTree(t)
	a := New(siteMap{"bio101": {ResourcesDir: root, StudentDirs: []string{"Submissions"}}})

	sink := &pathSink{}
	req := registry.Request{JobID: "j", SiteID: "bio101", IncludeStudentContent: true}
	require.NoError(t, a.Archive(context.Background(), req, sink))
	assert.Contains(t, sink.paths, "Resources/Submissions/alice/hw.txt")
	assert.Len(t, sink.paths, 3)
}

func TestArchiveFailsOnSinkError(t *testing.T) {
	root := makeTree(t)
	a := New(siteMap{"bio101": {ResourcesDir: root}})
	err := a.Archive(context.Background(), registry.Request{JobID: "j", SiteID: "bio101"}, &pathSink{err: errors.New("inactive")})
	assert.Error(t, err)
}

func TestArchiveWithoutResources(t *testing.T) {
	a := New(siteMap{"bio101": {}, "gone": {ResourcesDir: filepath.Join(t.TempDir(), "missing")}})
	assert.NoError(t, a.Archive(context.Background(), registry.Request{JobID: "j", SiteID: "bio101"}, &pathSink{}))
	assert.Error(t, a.Archive(context.Background(), registry.Request{JobID: "j", SiteID: "gone"}, &pathSink{}))
	assert.Error(t, a.Archive(context.Background(), registry.Request{JobID: "j", SiteID: "unknown"}, &pathSink{}))
}

func TestRegisterUnregister(t *testing.T) {
	reg := registry.New()
	require.NoError(t, Register(reg, siteMap{}))
	assert.Equal(t, []string{ID}, reg.IDs())
	Unregister(reg)
	assert.Zero(t, reg.Len())
}
