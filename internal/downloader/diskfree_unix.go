//go:build !windows

package downloader

import (
	"golang.org/x/sys/unix"
)

// FreeSpace returns the bytes available to unprivileged users at path, or 0 if unknown.
func FreeSpace(path string) int64 {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0
	}
	return int64(st.Bavail) * int64(st.Bsize)
}
