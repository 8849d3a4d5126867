// Package content writes archiver output into a job's archive root.
//
// Every path segment passes through sanitize.Segment and every file is
// checked against the size and extension policy before a byte is written.
package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/archivist/internal/failure"
	"github.com/mattjoyce/archivist/internal/index"
	"github.com/mattjoyce/archivist/internal/sanitize"
	"github.com/mattjoyce/archivist/internal/workspace"
)

// Roots opens a job's existing archive root.
type Roots interface {
	Open(ctx context.Context, jobID string) (workspace.Workspace, error)
}

// Policy limits what archivers may deposit.
type Policy struct {
	// MaxFileSize is the largest accepted file in bytes; 0 disables the check.
	MaxFileSize int64
	// ExcludedExtensions are rejected case-insensitively, with or without the dot.
	ExcludedExtensions []string
}

// Writer deposits files under archive roots.
type Writer struct {
	roots    Roots
	maxSize  int64
	excluded map[string]struct{}
}

// NewWriter builds a Writer enforcing p.
func NewWriter(roots Roots, p Policy) *Writer {
	excluded := make(map[string]struct{}, len(p.ExcludedExtensions))
	for _, ext := range p.ExcludedExtensions {
		if norm := normalizeExt(ext); norm != "" {
			excluded[norm] = struct{}{}
		}
	}
	return &Writer{roots: roots, maxSize: p.MaxFileSize, excluded: excluded}
}

// Check applies the policy to a prospective file without writing anything.
func (w *Writer) Check(filename string, size int64) error {
	const op = "archive content"
	if w.maxSize > 0 && size > w.maxSize {
		return failure.New(failure.KindFileSizeExceeded, op,
			"file %q is %d bytes, limit is %d", filename, size, w.maxSize)
	}
	if ext := normalizeExt(filepath.Ext(filename)); ext != "" {
		if _, ok := w.excluded[ext]; ok {
			return failure.New(failure.KindFileExtensionExcluded, op,
				"file %q has excluded extension %q", filename, ext)
		}
	}
	return nil
}

// Write stores data as root(jobID)/label/subdirs.../filename and returns the
// absolute path written. Directories are created as needed; concurrent
// writers racing on the same directory are fine. Files land via rename, so
// readers never observe a partial file. A label equal to the index file name
// is stored as "_index.html" so the root index can always be built.
func (w *Writer) Write(ctx context.Context, jobID, label string, data []byte, filename string, subdirs ...string) (string, error) {
	const op = "archive content"
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(label) == "" {
		return "", failure.New(failure.KindInvalidArgument, op, "archiver label is empty")
	}
	if strings.TrimSpace(filename) == "" {
		return "", failure.New(failure.KindInvalidArgument, op, "filename is empty")
	}

	name := sanitize.Segment(filename)
	if err := w.Check(name, int64(len(data))); err != nil {
		return "", err
	}

	ws, err := w.roots.Open(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("%s: archive root for job %q: %w", op, jobID, err)
	}

	parts := make([]string, 0, len(subdirs)+2)
	parts = append(parts, ws.Dir, labelSegment(label))
	for _, d := range subdirs {
		parts = append(parts, sanitize.Segment(d))
	}
	dir := filepath.Join(parts...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%s: create directory: %w", op, err)
	}

	target := filepath.Join(dir, name)
	if err := writeFileAtomic(dir, target, data); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return target, nil
}

// labelSegment sanitises an archiver label. The root-level index name is
// reserved for the index builder, so a label colliding with it is prefixed.
func labelSegment(label string) string {
	seg := sanitize.Segment(label)
	if strings.EqualFold(seg, index.FileName) {
		return "_" + seg
	}
	return seg
}

func writeFileAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %q: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %q: %w", target, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %q: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("rename into %q: %w", target, err)
	}
	return nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	ext = strings.TrimLeft(ext, ".")
	if ext == "" {
		return ""
	}
	return "." + ext
}
