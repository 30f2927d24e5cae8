// Package thumbnail obtains the thumbnail of a finished job, either by polling
// the upload backend or by rendering a local contact sheet.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// bytesPerWindow and window describe the observed processing throughput of the
// remote service, used only for the ETA shown to the user.
const (
	bytesPerWindow = 4.45 * 1000 * 1000
	window         = 20 * time.Second
)

// RemoteSource asks an upload backend for the thumbnail of an uploaded file.
type RemoteSource interface {
	ThumbnailWhenReady(ctx context.Context, id string, delay time.Duration) (string, error)
}

// Renderer produces a local contact sheet for a video.
type Renderer interface {
	Render(ctx context.Context, videoPath, outputDir string) (domain.ContactSheet, error)
}

// Options controls polling cadence and where local previews go.
type Options struct {
	BaseDelay  time.Duration
	RetryDelay time.Duration
	// MaxAttempts bounds remote polling; 0 polls until the context ends.
	MaxAttempts int
	PreviewDir  string
}

// Resolver produces ThumbnailArtifacts.
type Resolver struct {
	renderer Renderer
	opts     Options
	logger   *slog.Logger
}

// NewResolver creates a resolver. renderer may be nil when local mode is unused.
func NewResolver(renderer Renderer, opts Options, logger *slog.Logger) *Resolver {
	return &Resolver{
		renderer: renderer,
		opts:     opts,
		logger:   logger.With("component", "thumbnail_resolver"),
	}
}

// ResolveRemote polls src until it returns a thumbnail URL for id. The first
// call waits BaseDelay and every retry waits RetryDelay. Only ErrRemoteNotReady
// is retried.
func (r *Resolver) ResolveRemote(ctx context.Context, src RemoteSource, id string) (*domain.ThumbnailArtifact, error) {
	delay := r.opts.BaseDelay
	for attempt := 1; ; attempt++ {
		url, err := src.ThumbnailWhenReady(ctx, id, delay)
		if err == nil {
			r.logger.Info("remote thumbnail ready", "id", id, "attempts", attempt)
			return domain.NewRemoteThumbnail(url), nil
		}
		if !errors.Is(err, domain.ErrRemoteNotReady) {
			return nil, err
		}
		if r.opts.MaxAttempts > 0 && attempt >= r.opts.MaxAttempts {
			return nil, fmt.Errorf("%w: %d attempts for %s", domain.ErrThumbnailTimeout, attempt, id)
		}

		r.logger.Debug("thumbnail not ready yet", "id", id, "attempt", attempt, "retry_in", r.opts.RetryDelay)
		delay = r.opts.RetryDelay
	}
}

// ResolveLocal renders a contact sheet for videoPath into the preview folder.
func (r *Resolver) ResolveLocal(ctx context.Context, videoPath string) (*domain.ThumbnailArtifact, domain.ContactSheet, error) {
	if r.renderer == nil {
		return nil, domain.ContactSheet{}, fmt.Errorf("%w: no renderer configured", domain.ErrRendererFailure)
	}

	sheet, err := r.renderer.Render(ctx, videoPath, r.opts.PreviewDir)
	if err != nil {
		if !errors.Is(err, domain.ErrRendererFailure) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", domain.ErrRendererFailure, err)
		}
		return nil, domain.ContactSheet{}, err
	}
	return domain.NewLocalThumbnail(sheet.Path), sheet, nil
}

// EstimateWait returns the expected time the remote service needs to produce
// a thumbnail for a file of the given size. It never drives polling.
func EstimateWait(size int64) time.Duration {
	if size <= 0 {
		return 0
	}
	windows := float64(size) / bytesPerWindow
	return time.Duration(windows * float64(window)).Round(time.Second)
}
