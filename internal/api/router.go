// Package api serves the admin and health HTTP endpoints.
package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lucadibello/RimeSegateBot/internal/api/handler"
	mw "github.com/lucadibello/RimeSegateBot/internal/api/middleware"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(
	jobHandler *handler.JobHandler,
	healthHandler *handler.HealthHandler,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	// Health endpoints (no auth)
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(apiKey))

		r.Get("/stats", healthHandler.Stats)

		r.Get("/jobs", jobHandler.List)
		r.Delete("/jobs/{userID}", jobHandler.Cancel)

		r.Get("/history", jobHandler.History)
	})

	return r
}
