package domain

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// AutoFilenameLayout is the timestamp layout used for generated filenames (MMDDYYYY-HHMMSS).
const AutoFilenameLayout = "01022006-150405"

// AutoFilename returns a filename derived from the given time.
func AutoFilename(t time.Time) string {
	return t.Format(AutoFilenameLayout)
}

// NormalizeFilename strips every character outside [A-Za-z0-9].
func NormalizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// OutputBase returns the normalized base name (extension removed) for a requested filename.
func OutputBase(filename string) string {
	return NormalizeFilename(strings.TrimSuffix(filename, filepath.Ext(filename)))
}

// ExtensionFromURL returns the extension of the last path segment of rawURL,
// including the leading dot, or "" when there is none.
func ExtensionFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}
