//go:build darwin

package storage

import (
	"strings"
	"syscall"
)

func statfs(path string) (string, uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", 0, err
	}
	var name strings.Builder
	for _, c := range st.Fstypename {
		if c == 0 {
			break
		}
		name.WriteByte(byte(c))
	}
	return name.String(), st.Bavail * uint64(st.Bsize), nil
}
