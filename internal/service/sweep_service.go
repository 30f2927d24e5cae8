package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lucadibello/RimeSegateBot/internal/repository"
)

// SweepService periodically deletes old contact sheets from the preview folder.
type SweepService struct {
	dir       string
	retention time.Duration
	thumbs    repository.ThumbnailStore
	logger    *slog.Logger
	cron      *cron.Cron
	now       func() time.Time
}

// NewSweepService creates a preview sweeper. Images referenced by a stored
// thumbnail are never removed.
func NewSweepService(dir string, retention time.Duration, thumbs repository.ThumbnailStore, logger *slog.Logger) *SweepService {
	logger = logger.With("component", "sweep")
	return &SweepService{
		dir:       dir,
		retention: retention,
		thumbs:    thumbs,
		logger:    logger,
		cron:      cron.New(cron.WithLogger(cronLogger{logger})),
		now:       time.Now,
	}
}

// Start schedules Sweep with a cron spec such as "@every 1h".
func (s *SweepService) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(); err != nil {
			s.logger.Error("preview sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("preview sweep scheduled", "schedule", schedule, "dir", s.dir, "retention", s.retention)
	return nil
}

// Stop stops the scheduler and waits for a running sweep.
func (s *SweepService) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep removes preview images older than the retention period and returns
// the deleted paths.
func (s *SweepService) Sweep() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read preview dir: %w", err)
	}

	inUse := s.thumbs.ThumbnailPaths()
	cutoff := s.now().Add(-s.retention)

	var removed []string
	for _, e := range entries {
		if e.IsDir() || !isPreviewImage(e.Name()) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if _, ok := inUse[path]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove preview", "path", path, "error", err)
			continue
		}
		removed = append(removed, path)
	}

	if len(removed) > 0 {
		s.logger.Info("previews swept", "removed", len(removed))
	}
	return removed, nil
}

func isPreviewImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
