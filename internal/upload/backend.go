// Package upload publishes downloaded files to a hosting backend and asks it
// for the thumbnail it generates.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/lucadibello/RimeSegateBot/internal/config"
	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// Backend is an upload service.
type Backend interface {
	// Name identifies the backend in logs and messages.
	Name() string

	// Upload publishes the file at path.
	Upload(ctx context.Context, path string) (domain.UploadResult, error)

	// ThumbnailWhenReady waits delay, then asks once for the thumbnail of the
	// uploaded resource id. It returns ErrRemoteNotReady while the service is
	// still generating it.
	ThumbnailWhenReady(ctx context.Context, id string, delay time.Duration) (string, error)
}

// New builds the backend selected in cfg. It returns nil for the "none" backend.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.UploadBackend() {
	case config.BackendNone:
		return nil, nil
	case config.BackendHost:
		return NewHostBackend(cfg.Upload.Host, logger), nil
	case config.BackendS3:
		return NewS3Backend(ctx, cfg.Upload.S3, logger)
	default:
		return nil, fmt.Errorf("unknown upload backend %q", cfg.Upload.Backend)
	}
}

// detectContentType sniffs the MIME type of the file at path.
func detectContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
