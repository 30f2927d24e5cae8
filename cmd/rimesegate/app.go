package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucadibello/RimeSegateBot/internal/api"
	"github.com/lucadibello/RimeSegateBot/internal/api/handler"
	"github.com/lucadibello/RimeSegateBot/internal/config"
	"github.com/lucadibello/RimeSegateBot/internal/conversation"
	"github.com/lucadibello/RimeSegateBot/internal/downloader"
	"github.com/lucadibello/RimeSegateBot/internal/preview"
	"github.com/lucadibello/RimeSegateBot/internal/repository"
	"github.com/lucadibello/RimeSegateBot/internal/service"
	"github.com/lucadibello/RimeSegateBot/internal/telegram"
	"github.com/lucadibello/RimeSegateBot/internal/thumbnail"
	"github.com/lucadibello/RimeSegateBot/internal/upload"
	"github.com/lucadibello/RimeSegateBot/internal/urlcheck"
	"github.com/lucadibello/RimeSegateBot/internal/worker"
	"github.com/lucadibello/RimeSegateBot/pkg/ffmpeg"
)

const shutdownTimeout = 25 * time.Second

func run(ctx context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting rimesegate",
		"version", Version,
		"build_time", BuildTime,
		"upload_backend", cfg.UploadBackend(),
		"extractor", cfg.Download.UseExtractor,
		"remote_thumbnail", cfg.Thumbnail.Remote,
	)

	for _, dir := range []string{cfg.Storage.SaveFolder, cfg.Storage.PreviewFolder} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	history, err := openHistory(cfg.Storage.HistoryPath, logger)
	if err != nil {
		return err
	}
	defer history.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories and adapters
	registry := repository.NewSessionRegistry()
	fetcher := downloader.New(cfg.Download, logger)
	checker := urlcheck.New(downloader.NewHTTPFetcher(cfg.Download, logger), logger)

	backend, err := upload.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var renderer thumbnail.Renderer
	if processor, err := ffmpeg.NewVideoProcessor(cfg.Thumbnail.FFmpegPath, cfg.Thumbnail.FFprobePath); err != nil {
		logger.Warn("ffmpeg not available, local thumbnails disabled", "error", err)
	} else {
		renderer = preview.NewRenderer(processor, preview.Options{
			Columns:      cfg.Thumbnail.Columns,
			Rows:         cfg.Thumbnail.Rows,
			ScalePercent: cfg.Thumbnail.ScalePercent,
		}, logger)
	}

	resolver := thumbnail.NewResolver(renderer, thumbnail.Options{
		BaseDelay:   cfg.Thumbnail.BaseDelay,
		RetryDelay:  cfg.Thumbnail.RetryDelay,
		MaxAttempts: cfg.Thumbnail.MaxAttempts,
		PreviewDir:  cfg.Storage.PreviewFolder,
	}, logger)

	// Services
	publisher := service.NewPublishService(backend, resolver, registry, history, service.PublishConfig{
		RemoteThumbnail: cfg.Thumbnail.Remote,
		UseExtractor:    cfg.Download.UseExtractor,
		ConvertToMP4:    cfg.Download.ConvertToMP4,
		SendTimeout:     cfg.Telegram.SendTimeout,
	}, logger)

	supervisor := worker.NewSupervisor(worker.Config{
		SaveFolder:  cfg.Storage.SaveFolder,
		CancelGrace: cfg.Download.CancelGrace,
	}, registry, fetcher, publisher, logger)

	machine := conversation.NewMachine(conversation.Config{
		AutomaticFilename: cfg.Download.AutomaticFilename,
		SkipWizard:        cfg.Download.SkipWizard,
		Divider:           cfg.Caption.Divider,
	}, checker, supervisor, registry, history, logger)

	sweeper := service.NewSweepService(cfg.Storage.PreviewFolder, cfg.Storage.PreviewRetention, registry, logger)
	if cfg.Storage.SweepSchedule != "" {
		if err := sweeper.Start(cfg.Storage.SweepSchedule); err != nil {
			return err
		}
	}

	bot, err := telegram.New(cfg.Telegram, machine, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx)
	})

	if cfg.Server.Enabled {
		router := api.NewRouter(
			handler.NewJobHandler(supervisor, history, logger),
			handler.NewHealthHandler(supervisor, history, cfg.Storage.SaveFolder),
			cfg.Server.APIKey,
			logger,
		)
		srv := &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		g.Go(func() error {
			logger.Info("starting HTTP server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")

	if stopErr := supervisor.Stop(shutdownTimeout); stopErr != nil {
		logger.Error("supervisor shutdown error", "error", stopErr)
	}

	sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sweeper.Stop(sweepCtx)

	logger.Info("shutdown complete")
	return err
}

// openHistory opens the SQLite history, or an in-memory one when path is empty.
func openHistory(path string, logger *slog.Logger) (repository.HistoryRepository, error) {
	if path == "" {
		logger.Info("history path not set, keeping history in memory")
		return repository.NewInMemoryHistoryRepository(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	repo, err := repository.NewSQLiteHistoryRepository(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return repo, nil
}
