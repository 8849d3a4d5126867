//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// Superblock magic numbers, see statfs(2).
var linuxFSNames = map[uint64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
	0xEF53:     "ext4",
	0x58465342: "xfs",
	0x9123683E: "btrfs",
	0x01021994: "tmpfs",
	0x2FC12FC1: "zfs",
	0x794C7630: "overlayfs",
}

func statfs(path string) (string, uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", 0, err
	}
	free := uint64(st.Bavail) * uint64(st.Bsize)
	if name, ok := linuxFSNames[uint64(st.Type)]; ok {
		return name, free, nil
	}
	return fmt.Sprintf("0x%x", uint64(st.Type)), free, nil
}
