//go:build windows

package downloader

import (
	"golang.org/x/sys/windows"
)

// FreeSpace returns the bytes available to the caller at path, or 0 if unknown.
func FreeSpace(path string) int64 {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0
	}

	var freeBytes, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeBytes, &totalBytes, &totalFreeBytes); err != nil {
		return 0
	}
	return int64(freeBytes)
}
