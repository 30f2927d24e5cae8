package downloader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// PartSuffix marks a file that is still being written.
const PartSuffix = ".part"

// IsPartial reports whether name is an in-progress artifact left by either fetch strategy.
func IsPartial(name string) bool {
	switch {
	case strings.HasSuffix(name, PartSuffix),
		strings.HasSuffix(name, ".ytdl"),
		strings.HasSuffix(name, ".temp"),
		strings.Contains(name, ".part-Frag"):
		return true
	}
	return false
}

// CleanupPartials removes the in-progress artifacts belonging to baseName in dir
// and returns the removed paths. Only names of the form "<baseName>.<rest>" are
// considered, so "clip" never matches "clip2.mp4.part".
func CleanupPartials(dir, baseName string) ([]string, error) {
	if baseName == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, globEscape(baseName)+".*"))
	if err != nil {
		return nil, fmt.Errorf("glob partials: %w", err)
	}

	var removed []string
	var errs []error
	for _, path := range matches {
		if !IsPartial(filepath.Base(path)) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}

// checkDir fails with ErrDestinationMissing when dir does not exist.
func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrDestinationMissing, dir)
		}
		return fmt.Errorf("stat save folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrDestinationMissing, dir)
	}
	return nil
}

// checkOverwrite lists dir and fails with ErrWouldOverwrite when name is taken.
func checkOverwrite(dir, name string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list save folder: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && e.Name() == name {
			return fmt.Errorf("%w: %s", domain.ErrWouldOverwrite, name)
		}
	}
	return nil
}
