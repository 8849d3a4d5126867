package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/archivist/internal/api"
	"github.com/mattjoyce/archivist/internal/archivers/resources"
	"github.com/mattjoyce/archivist/internal/archivers/siteinfo"
	"github.com/mattjoyce/archivist/internal/auth"
	"github.com/mattjoyce/archivist/internal/config"
	"github.com/mattjoyce/archivist/internal/content"
	"github.com/mattjoyce/archivist/internal/download"
	"github.com/mattjoyce/archivist/internal/events"
	"github.com/mattjoyce/archivist/internal/index"
	"github.com/mattjoyce/archivist/internal/jobs"
	"github.com/mattjoyce/archivist/internal/log"
	"github.com/mattjoyce/archivist/internal/orchestrator"
	"github.com/mattjoyce/archivist/internal/pack"
	"github.com/mattjoyce/archivist/internal/registry"
	"github.com/mattjoyce/archivist/internal/storage"
	"github.com/mattjoyce/archivist/internal/workspace"
)

type stack struct {
	svc    *orchestrator.Service
	server *httptest.Server
	hub    *events.Hub
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log.Setup("error", "")
	tmp := t.TempDir()

	res := filepath.Join(tmp, "resources", "bio101")
	mustWrite(t, filepath.Join(res, "syllabus.txt"), "week 1: cells")
	mustWrite(t, filepath.Join(res, "Lecture 1", "slides.pdf"), "%PDF-1.4")
	mustWrite(t, filepath.Join(res, "Lecture 1", "setup.exe"), "MZ")
	mustWrite(t, filepath.Join(res, "Submissions", "alice.doc"), "essay")

	cfg := config.Defaults()
	cfg.State.Path = filepath.Join(tmp, "state.db")
	cfg.Archive.RootDir = filepath.Join(tmp, "archives")
	cfg.Archive.ExcludedExtensions = []string{"exe"}
	cfg.Sites["bio101"] = config.SiteConf{
		Title:        "Biology 101",
		Maintainers:  []string{"alice"},
		ResourcesDir: res,
		StudentDirs:  []string{"Submissions"},
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := jobs.NewStore(db)

	ws, err := workspace.NewFSManager(cfg.Archive.RootDir)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(ws.BaseDir(), 0o755))

	reg := registry.New()
	require.NoError(t, siteinfo.Register(reg, cfg))
	require.NoError(t, resources.Register(reg, cfg))

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
	}, orchestrator.Options{ProviderTimeout: 10 * time.Second})
	require.NoError(t, err)

	roles := auth.NewSiteRoles(nil, map[string][]string{"bio101": {"alice"}})
	srv := api.New(api.Config{
		Tokens: []auth.TokenConfig{
			{Token: "alice-token", User: "alice", Scopes: []string{auth.ScopeArchivesRW}},
			{Token: "bob-token", User: "bob", Scopes: []string{auth.ScopeArchivesRO}},
		},
	}, api.Deps{
		Archives:  svc,
		Archivers: reg,
		Downloads: download.NewGate(store, roles),
		Roles:     roles,
		Events:    hub,
	}, log.WithComponent("api"))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &stack{svc: svc, server: ts, hub: hub}
}

func (s *stack) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.server.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestArchiveSiteEndToEnd(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp := s.do(t, http.MethodPost, "/sites/bio101/archives", "alice-token",
		`{"tools":["siteinfo","resources","forum"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started api.ArchiveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.NotEmpty(t, started.ID)
	assert.Equal(t, "/archives/"+started.ID, resp.Header.Get("Location"))

	job, err := s.svc.Wait(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusIncomplete, job.Status)
	assert.Equal(t, []string{"forum"}, job.FailedTools)

	resp = s.do(t, http.MethodGet, "/archives/"+started.ID, "alice-token", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got api.ArchiveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "INCOMPLETE", got.Status)
	require.NotNil(t, got.Artifact)

	resp = s.do(t, http.MethodGet, "/archives/"+started.ID+"/download", "bob-token", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/archives/"+started.ID+"/download", "alice-token", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "INCOMPLETE", resp.Header.Get("X-Archive-Status"))

	zipPath := filepath.Join(t.TempDir(), "download.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	_, err = io.Copy(f, resp.Body)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out := t.TempDir()
	require.NoError(t, pack.Extract(zipPath, out))

	assert.FileExists(t, filepath.Join(out, index.FileName))
	assert.FileExists(t, filepath.Join(out, "Resources", "syllabus.txt"))
	assert.FileExists(t, filepath.Join(out, "Resources", "Lecture 1", "slides.pdf"))
	assert.NoFileExists(t, filepath.Join(out, "Resources", "Lecture 1", "setup.exe"))
	assert.NoDirExists(t, filepath.Join(out, "Resources", "Submissions"))

	raw, err := os.ReadFile(filepath.Join(out, "Site Information", "site.yaml"))
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &meta))
	assert.Equal(t, "bio101", meta["site_id"])
	assert.Equal(t, started.ID, meta["archive_id"])

	page, err := os.ReadFile(filepath.Join(out, index.FileName))
	require.NoError(t, err)
	assert.Contains(t, string(page), `href="Resources/Lecture%201/slides.pdf"`)

	resp = s.do(t, http.MethodGet, "/sites/bio101/archives/current", "alice-token", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var types []string
	for _, ev := range s.hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, events.ArchiveStarted, types[0])
	assert.Equal(t, events.ArchiveFinished, types[len(types)-1])
	assert.Contains(t, types, events.ToolSkipped)
}

func TestArchiveStudentContentIncluded(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp := s.do(t, http.MethodPost, "/sites/bio101/archives", "alice-token",
		`{"tools":["resources"],"include_student_content":true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started api.ArchiveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))

	job, err := s.svc.Wait(ctx, started.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusComplete, job.Status)

	require.NotNil(t, job.ArtifactPath)
	out := t.TempDir()
	require.NoError(t, pack.Extract(*job.ArtifactPath, out))
	assert.FileExists(t, filepath.Join(out, "Resources", "Submissions", "alice.doc"))
}

func TestArchiveRejectsNonMaintainer(t *testing.T) {
	s := newStack(t)
	resp := s.do(t, http.MethodPost, "/sites/bio101/archives", "bob-token", `{"tools":["resources"]}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
