package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// JobService is what the admin API needs from the supervisor.
type JobService interface {
	Jobs() []*domain.Job
	Cancel(ctx context.Context, owner domain.UserID) ([]string, error)
}

// HistoryReader lists completed runs.
type HistoryReader interface {
	ListByOwner(ctx context.Context, owner domain.UserID, limit int) ([]domain.HistoryEntry, error)
	List(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
}

// JobHandler serves the admin job endpoints.
type JobHandler struct {
	jobs    JobService
	history HistoryReader
	logger  *slog.Logger
}

// NewJobHandler creates a job handler. history may be nil.
func NewJobHandler(jobs JobService, history HistoryReader, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		jobs:    jobs,
		history: history,
		logger:  logger,
	}
}

// JobResponse represents one in-flight job.
type JobResponse struct {
	JobID     string    `json:"job_id"`
	UserID    int64     `json:"user_id"`
	SourceURL string    `json:"source_url"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobListResponse is the response of GET /api/v1/jobs.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
}

// CancelResponse is the response of DELETE /api/v1/jobs/{userID}.
type CancelResponse struct {
	UserID  int64    `json:"user_id"`
	Removed []string `json:"removed_files"`
}

// HistoryResponse is the response of GET /api/v1/history.
type HistoryResponse struct {
	Entries []domain.HistoryEntry `json:"entries"`
	Total   int                   `json:"total"`
}

// List handles GET /api/v1/jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.Jobs()
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, job := range jobs {
		status, updated := job.Status()
		resp.Jobs = append(resp.Jobs, JobResponse{
			JobID:     job.ID.String(),
			UserID:    int64(job.Owner),
			SourceURL: job.Request.SourceURL,
			Filename:  job.Request.Filename,
			Status:    string(status),
			Error:     job.LastError(),
			StartedAt: job.StartedAt,
			UpdatedAt: updated,
		})
	}
	resp.Total = len(resp.Jobs)
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles DELETE /api/v1/jobs/{userID}.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	removed, err := h.jobs.Cancel(r.Context(), owner)
	if err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			writeError(w, http.StatusNotFound, "no download is running for this user")
			return
		}
		h.logger.Error("cancel job failed", "user_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	h.logger.Info("job cancelled via admin API", "user_id", owner, "removed", len(removed))
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, CancelResponse{UserID: int64(owner), Removed: removed})
}

// History handles GET /api/v1/history?user=&limit=.
func (h *JobHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var (
		entries []domain.HistoryEntry
		err     error
	)
	if v := r.URL.Query().Get("user"); v != "" {
		owner, perr := domain.ParseUserID(v)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		entries, err = h.history.ListByOwner(r.Context(), owner, limit)
	} else {
		entries, err = h.history.List(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("list history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Total: len(entries)})
}
