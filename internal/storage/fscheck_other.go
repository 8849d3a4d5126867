//go:build !darwin && !linux

package storage

import "errors"

func statfs(string) (string, uint64, error) {
	return "", 0, errors.New("filesystem detection is unsupported on this platform")
}
