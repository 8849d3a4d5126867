// Package pack turns an archive root into a single zip artifact.
package pack

import (
	"archive/zip"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/archivist/internal/failure"
)

// Artifact describes a packaged zip file.
type Artifact struct {
	Path   string
	Size   int64
	Digest string // hex blake3 of the zip bytes
}

// Packager writes zip artifacts.
type Packager struct{}

// New returns a Packager.
func New() *Packager { return &Packager{} }

// Pack zips every regular file under dir into <parent of dir>/<name>.zip.
// Entry names are slash-separated paths relative to dir, in lexical walk
// order. The artifact appears atomically; on failure no partial zip remains.
func (p *Packager) Pack(ctx context.Context, dir, name string) (Artifact, error) {
	const op = "package archive"

	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) {
		return Artifact{}, failure.New(failure.KindInvalidArgument, op, "invalid artifact name %q", name)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return Artifact{}, failure.Wrap(failure.KindPackagingFailed, op, err)
	}
	if !info.IsDir() {
		return Artifact{}, failure.New(failure.KindPackagingFailed, op, "%q is not a directory", dir)
	}

	parent := filepath.Dir(filepath.Clean(dir))
	target := filepath.Join(parent, name+".zip")

	tmp, err := os.CreateTemp(parent, "."+name+"-*.zip")
	if err != nil {
		return Artifact{}, failure.Wrap(failure.KindPackagingFailed, op, err)
	}
	tmpName := tmp.Name()

	hasher := blake3.New()
	counter := &countingWriter{}
	zw := zip.NewWriter(io.MultiWriter(tmp, hasher, counter))

	if err := addTree(ctx, zw, dir); err != nil {
		_ = zw.Close()
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return Artifact{}, failure.Wrap(failure.KindPackagingFailed, op, err)
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return Artifact{}, failure.Wrap(failure.KindPackagingFailed, op, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return Artifact{}, failure.Wrap(failure.KindPackagingFailed, op, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return Artifact{}, failure.Wrap(failure.KindPackagingFailed, op, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return Artifact{}, failure.Wrap(failure.KindPackagingFailed, op, err)
	}

	return Artifact{
		Path:   target,
		Size:   counter.n,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func addTree(ctx context.Context, zw *zip.Writer, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return addFile(zw, path, filepath.ToSlash(rel), d)
	})
}

func addFile(zw *zip.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header for %q: %w", name, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %q: %w", name, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %q: %w", name, err)
	}
	return nil
}

// Extract unpacks zipPath into dest, refusing entries that would land
// outside dest.
func Extract(zipPath, dest string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	cleanDest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	for _, f := range r.File {
		target := filepath.Join(cleanDest, filepath.FromSlash(f.Name))
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
