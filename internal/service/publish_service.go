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

	"github.com/dustin/go-humanize"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
	"github.com/lucadibello/RimeSegateBot/internal/repository"
	"github.com/lucadibello/RimeSegateBot/internal/session"
	"github.com/lucadibello/RimeSegateBot/internal/thumbnail"
	"github.com/lucadibello/RimeSegateBot/internal/upload"
)

// PublishConfig controls the post-fetch handoff.
type PublishConfig struct {
	RemoteThumbnail bool
	UseExtractor    bool
	ConvertToMP4    bool
	SendTimeout     time.Duration
}

// PublishService uploads a fetched file, resolves its thumbnail and stores it
// for the caption wizard.
type PublishService struct {
	backend  upload.Backend
	resolver *thumbnail.Resolver
	thumbs   repository.ThumbnailStore
	history  repository.HistoryRepository
	cfg      PublishConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewPublishService creates the handoff service. A nil backend sends the video
// back to the user instead of uploading it.
func NewPublishService(
	backend upload.Backend,
	resolver *thumbnail.Resolver,
	thumbs repository.ThumbnailStore,
	history repository.HistoryRepository,
	cfg PublishConfig,
	logger *slog.Logger,
) *PublishService {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 60 * time.Second
	}
	return &PublishService{
		backend:  backend,
		resolver: resolver,
		thumbs:   thumbs,
		history:  history,
		cfg:      cfg,
		logger:   logger.With("component", "publish"),
		now:      time.Now,
	}
}

// Publish runs the handoff for a fetched file. Errors it returns abort the
// handoff and are reported once by the caller; thumbnail failures other than
// permission errors are reported here and do not abort it.
func (s *PublishService) Publish(ctx context.Context, job *domain.Job, res domain.FetchResult, sess session.Session) error {
	logger := s.logger.With("job_id", job.ID, "user_id", job.Owner)

	if s.backend == nil {
		return s.publishDirect(ctx, job, res, sess, logger)
	}

	if s.cfg.UseExtractor && s.cfg.ConvertToMP4 {
		s.notify(ctx, sess, domain.SeverityWarning,
			"Conversion to mp4 is enabled together with the upload. The upload may fail or pick up the unconverted file.")
	}

	// 1. Upload
	job.SetStatus(domain.JobStatusUploading)
	s.notify(ctx, sess, domain.SeverityInfo, fmt.Sprintf("Uploading %s (%s) to %s...",
		filepath.Base(res.Path), humanize.Bytes(uint64(max(res.Size, 0))), s.backend.Name()))

	result, err := s.backend.Upload(ctx, res.Path)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	logger.Info("upload completed", "remote_id", result.ID, "url", result.URL)

	// 2. Notify
	s.notify(ctx, sess, domain.SeveritySuccess, formatUpload(result))

	// 3. Thumbnail
	job.SetStatus(domain.JobStatusThumbnail)
	art, err := s.resolveThumbnail(ctx, result, res, sess)
	if err != nil {
		if errors.Is(err, domain.ErrPermissionDenied) || ctx.Err() != nil {
			return fmt.Errorf("thumbnail: %w", err)
		}
		logger.Warn("thumbnail unavailable", "error", err)
		sev, msg := domain.UserMessage(err)
		s.notify(ctx, sess, sev, msg)
	}

	// 4. Store
	if art != nil {
		s.thumbs.PutThumbnail(job.Owner, art)
		s.notify(ctx, sess, domain.SeveritySuccess, "Thumbnail ready. Send /thumbnail to compose the caption.")
	}

	// 5. Cleanup
	if err := os.Remove(res.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to delete uploaded file", "path", res.Path, "error", err)
	}

	s.record(ctx, job, res, result, art, logger)
	return nil
}

// publishDirect sends the file through the chat and keeps it on disk.
func (s *PublishService) publishDirect(ctx context.Context, job *domain.Job, res domain.FetchResult, sess session.Session, logger *slog.Logger) error {
	job.SetStatus(domain.JobStatusUploading)

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	err := sess.SendVideo(sendCtx, res.Path)
	cancel()
	if err != nil {
		return fmt.Errorf("send video: %w", err)
	}

	var art *domain.ThumbnailArtifact
	if !s.cfg.RemoteThumbnail {
		job.SetStatus(domain.JobStatusThumbnail)
		var sheet domain.ContactSheet
		art, sheet, err = s.resolver.ResolveLocal(ctx, res.Path)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("thumbnail: %w", err)
			}
			sev, msg := domain.UserMessage(err)
			s.notify(ctx, sess, sev, msg)
		} else {
			s.thumbs.PutThumbnail(job.Owner, art)
			s.notify(ctx, sess, domain.SeveritySuccess,
				fmt.Sprintf("Preview generated in %.1fs. Send /thumbnail to compose the caption.", sheet.Elapsed))
		}
	}

	s.record(ctx, job, res, domain.UploadResult{Name: filepath.Base(res.Path), Size: res.Size}, art, logger)
	return nil
}

func (s *PublishService) resolveThumbnail(ctx context.Context, result domain.UploadResult, res domain.FetchResult, sess session.Session) (*domain.ThumbnailArtifact, error) {
	if !s.cfg.RemoteThumbnail {
		art, sheet, err := s.resolver.ResolveLocal(ctx, res.Path)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("contact sheet ready", "path", sheet.Path, "elapsed_seconds", sheet.Elapsed)
		return art, nil
	}

	if eta := thumbnail.EstimateWait(result.Size); eta > 0 {
		s.notify(ctx, sess, domain.SeverityInfo,
			fmt.Sprintf("Waiting for the thumbnail, estimated %s.", eta))
	}
	return s.resolver.ResolveRemote(ctx, s.backend, result.ID)
}

func (s *PublishService) record(ctx context.Context, job *domain.Job, res domain.FetchResult, result domain.UploadResult, art *domain.ThumbnailArtifact, logger *slog.Logger) {
	if s.history == nil {
		return
	}

	entry := domain.HistoryEntry{
		ID:          job.ID,
		Owner:       job.Owner,
		SourceURL:   job.Request.SourceURL,
		Filename:    filepath.Base(res.Path),
		RemoteID:    result.ID,
		RemoteURL:   result.URL,
		Size:        result.Size,
		ContentType: result.ContentType,
		CreatedAt:   s.now(),
	}
	if entry.Size == 0 {
		entry.Size = res.Size
	}
	if art != nil {
		entry.Thumbnail = art.Ref()
	}

	if err := s.history.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("failed to record history", "error", err)
	}
}

func (s *PublishService) notify(ctx context.Context, sess session.Session, sev domain.Severity, msg string) {
	if err := sess.SendText(ctx, sev, msg); err != nil {
		s.logger.Warn("failed to notify user", "user_id", sess.UserID(), "error", err)
	}
}

func formatUpload(r domain.UploadResult) string {
	var b strings.Builder
	b.WriteString("Upload completed\n")
	fmt.Fprintf(&b, "Name: %s\n", r.Name)
	fmt.Fprintf(&b, "Size: %s\n", humanize.Bytes(uint64(max(r.Size, 0))))
	if r.ContentType != "" {
		fmt.Fprintf(&b, "Type: %s\n", r.ContentType)
	}
	fmt.Fprintf(&b, "URL: %s", r.URL)
	return b.String()
}
