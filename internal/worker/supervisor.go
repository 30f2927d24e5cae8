package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
	"github.com/lucadibello/RimeSegateBot/internal/downloader"
	"github.com/lucadibello/RimeSegateBot/internal/repository"
	"github.com/lucadibello/RimeSegateBot/internal/session"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("supervisor shutdown timed out")

// Handoff runs on the job's worker after a successful fetch.
type Handoff interface {
	Publish(ctx context.Context, job *domain.Job, res domain.FetchResult, sess session.Session) error
}

// Config holds supervisor configuration.
type Config struct {
	SaveFolder  string
	CancelGrace time.Duration
}

// Supervisor runs at most one download job per user, each on its own goroutine.
type Supervisor struct {
	cfg      Config
	registry repository.JobRegistry
	fetcher  downloader.Fetcher
	handoff  Handoff
	logger   *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewSupervisor creates a job supervisor. handoff may be nil, in which case a
// job ends after the fetch.
func NewSupervisor(
	cfg Config,
	registry repository.JobRegistry,
	fetcher downloader.Fetcher,
	handoff Handoff,
	logger *slog.Logger,
) *Supervisor {
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 3 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		cfg:      cfg,
		registry: registry,
		fetcher:  fetcher,
		handoff:  handoff,
		logger:   logger.With("component", "supervisor"),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Submit starts a job for the session's user and returns without waiting for it.
// It fails with ErrAlreadyRunning when the user already has a job.
func (s *Supervisor) Submit(req domain.Request, sess session.Session) (*domain.Job, error) {
	if req.SourceURL == "" {
		return nil, fmt.Errorf("%w: empty source URL", domain.ErrValidation)
	}
	if s.ctx.Err() != nil {
		return nil, errors.New("supervisor is stopped")
	}

	owner := sess.UserID()
	base := domain.OutputBase(req.Filename)
	if base == "" {
		base = domain.NormalizeFilename(domain.AutoFilename(s.now()))
	}

	ctx, cancel := context.WithCancel(s.ctx)
	job := domain.NewJob(domain.JobID(uuid.New().String()), owner, req, base, cancel)

	if err := s.registry.Reserve(job); err != nil {
		cancel()
		return nil, err
	}

	s.logger.Info("job submitted",
		"job_id", job.ID,
		"user_id", owner,
		"source_url", req.SourceURL,
		"base_name", base,
	)

	s.wg.Add(1)
	go s.run(ctx, job, sess)

	return job, nil
}

// Cancel stops the user's running job. It waits for the worker to return, at
// most CancelGrace, then removes partial files and frees the user's slot.
// The returned paths are the partial files that were deleted.
func (s *Supervisor) Cancel(ctx context.Context, owner domain.UserID) ([]string, error) {
	job, ok := s.registry.Job(owner)
	if !ok {
		return nil, domain.ErrNotRunning
	}

	logger := s.logger.With("job_id", job.ID, "user_id", owner)
	logger.Info("cancelling job")
	job.Cancel()

	grace := time.NewTimer(s.cfg.CancelGrace)
	defer grace.Stop()
	select {
	case <-job.Done():
	case <-grace.C:
		logger.Warn("worker did not stop within grace period", "grace", s.cfg.CancelGrace)
	case <-ctx.Done():
	}

	// The worker releases its own slot on return, so a false result only
	// means the job got there first.
	released := s.registry.Release(owner, job.ID)
	if !released {
		if status, _ := job.Status(); status == domain.JobStatusCompleted || status == domain.JobStatusFailed {
			logger.Info("job ended before it could be cancelled", "status", status)
			return nil, domain.ErrNotRunning
		}
	}

	removed, err := downloader.CleanupPartials(s.cfg.SaveFolder, job.BaseName)
	if err != nil {
		logger.Warn("failed to clean partial files", "error", err)
	}
	for _, p := range removed {
		logger.Debug("removed partial file", "path", filepath.Base(p))
	}

	job.SetStatus(domain.JobStatusCancelled)
	return removed, nil
}

// Job returns the running job of a user.
func (s *Supervisor) Job(owner domain.UserID) (*domain.Job, bool) {
	return s.registry.Job(owner)
}

// Jobs returns every running job.
func (s *Supervisor) Jobs() []*domain.Job {
	return s.registry.Jobs()
}

// Stop cancels every job and waits for workers to return.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.logger.Info("stopping supervisor")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("supervisor stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

// run is the worker body. It always frees the user's slot before returning.
func (s *Supervisor) run(ctx context.Context, job *domain.Job, sess session.Session) {
	defer s.wg.Done()
	defer job.Finish()
	defer s.registry.Release(job.Owner, job.ID)

	logger := s.logger.With("job_id", job.ID, "user_id", job.Owner)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			job.MarkFailed(fmt.Sprint(r))
			s.notify(ctx, sess, domain.SeverityError, fmt.Sprintf("Internal error while processing the download: %v", r))
		}
	}()

	err := s.process(ctx, job, sess, logger)
	switch {
	case err == nil:
		job.SetStatus(domain.JobStatusCompleted)
		logger.Info("job completed", "duration", time.Since(job.StartedAt))
	case ctx.Err() != nil:
		job.SetStatus(domain.JobStatusCancelled)
		logger.Info("job stopped", "reason", context.Cause(ctx), "error", err)
	default:
		job.MarkFailed(err.Error())
		logger.Error("job failed", "error", domain.NewJobError(job.Owner, "job", err))
		sev, msg := domain.UserMessage(err)
		s.notify(ctx, sess, sev, msg)
	}
}

func (s *Supervisor) process(ctx context.Context, job *domain.Job, sess session.Session, logger *slog.Logger) error {
	s.notify(ctx, sess, domain.SeverityInfo, fmt.Sprintf("Download started: %s", job.Request.SourceURL))

	hooks := downloader.Hooks{
		Progress: downloader.PercentNotifier(func(pct int) {
			s.notify(ctx, sess, domain.SeverityInfo, fmt.Sprintf("Downloading... %d%%", pct))
		}),
		Log: func(sev domain.Severity, line string) {
			s.notify(ctx, sess, sev, line)
		},
	}

	dest := downloader.Destination{Dir: s.cfg.SaveFolder, BaseName: job.BaseName}
	res, err := s.fetcher.Fetch(ctx, job.Request.SourceURL, dest, hooks)
	if err != nil {
		return err
	}

	logger.Info("fetch completed", "path", res.Path, "size", res.Size)
	s.notify(ctx, sess, domain.SeveritySuccess, fmt.Sprintf("Download completed: %s (%s)",
		filepath.Base(res.Path), humanize.Bytes(uint64(max(res.Size, 0)))))

	if s.handoff == nil {
		return nil
	}
	return s.handoff.Publish(ctx, job, res, sess)
}

// notify sends a message even when the job context has been cancelled.
func (s *Supervisor) notify(ctx context.Context, sess session.Session, sev domain.Severity, msg string) {
	if msg == "" {
		return
	}
	if err := sess.SendText(context.WithoutCancel(ctx), sev, msg); err != nil {
		s.logger.Warn("failed to notify user", "user_id", sess.UserID(), "error", err)
	}
}
