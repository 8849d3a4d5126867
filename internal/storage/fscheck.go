package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSInfo describes the filesystem holding a path.
type FSInfo struct {
	// Path is the existing path that was inspected.
	Path      string
	Type      string
	FreeBytes uint64
}

// Network reports whether the filesystem is a remote mount.
func (fi FSInfo) Network() bool {
	switch strings.ToLower(strings.TrimSpace(fi.Type)) {
	case "afpfs", "cifs", "nfs", "smbfs", "smb2", "webdav":
		return true
	}
	return false
}

// statfsFunc reports the filesystem type and free bytes at an existing path.
type statfsFunc func(path string) (fsType string, free uint64, err error)

// Probe inspects the filesystem holding path, walking up to the nearest
// existing ancestor when path does not exist yet.
func Probe(path string) (FSInfo, error) {
	return probe(path, statfs)
}

func probe(path string, fn statfsFunc) (FSInfo, error) {
	existing, err := nearestExisting(path)
	if err != nil {
		return FSInfo{}, err
	}
	fsType, free, err := fn(existing)
	if err != nil {
		return FSInfo{}, fmt.Errorf("inspect filesystem at %q: %w", existing, err)
	}
	return FSInfo{Path: existing, Type: fsType, FreeBytes: free}, nil
}

// RequireLocalFilesystem fails when path sits on a network mount. setting
// names the config key reported in the error. The job store needs working
// SQLite locks and archive roots need atomic renames, neither of which remote
// mounts guarantee.
func RequireLocalFilesystem(path, setting string) error {
	return requireLocal(path, setting, statfs)
}

func requireLocal(path, setting string, fn statfsFunc) error {
	if path == "" {
		return fmt.Errorf("%s is empty", setting)
	}
	fi, err := probe(path, fn)
	if err != nil {
		return fmt.Errorf("%s: %w", setting, err)
	}
	if fi.Network() {
		return fmt.Errorf("%s %q is on network filesystem %q; point it at local disk", setting, path, fi.Type)
	}
	return nil
}

func nearestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for dir := abs; ; {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		dir = parent
	}
}
