package repository

import (
	"context"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// JobRegistry tracks the single in-flight job of each user.
type JobRegistry interface {
	// Reserve records job for its owner. Fails with ErrAlreadyRunning if one exists.
	Reserve(job *domain.Job) error

	// Release removes the owner's handle if it is still the given job.
	Release(owner domain.UserID, id domain.JobID) bool

	// Job returns the owner's in-flight job.
	Job(owner domain.UserID) (*domain.Job, bool)

	// Jobs returns every in-flight job.
	Jobs() []*domain.Job
}

// ThumbnailStore keeps the latest thumbnail and caption state of each user.
type ThumbnailStore interface {
	// PutThumbnail stores art for owner, replacing any prior artifact.
	PutThumbnail(owner domain.UserID, art *domain.ThumbnailArtifact)

	// Thumbnail returns a copy of the owner's artifact.
	Thumbnail(owner domain.UserID) (*domain.ThumbnailArtifact, bool)

	// UpdateCaption mutates the owner's caption state under the registry lock.
	// Returns ErrNoThumbnail if the owner has no artifact.
	UpdateCaption(owner domain.UserID, fn func(*domain.CaptionState)) error

	// ResetCaption clears caption fields and keeps the thumbnail reference.
	ResetCaption(owner domain.UserID)

	// ThumbnailPaths returns the local paths currently referenced by any artifact.
	ThumbnailPaths() map[string]struct{}
}

// HistoryRepository persists completed runs.
type HistoryRepository interface {
	// Record stores a completed run.
	Record(ctx context.Context, entry domain.HistoryEntry) error

	// ListByOwner returns the most recent entries of owner, newest first.
	ListByOwner(ctx context.Context, owner domain.UserID, limit int) ([]domain.HistoryEntry, error)

	// List returns the most recent entries of every user, newest first.
	List(ctx context.Context, limit int) ([]domain.HistoryEntry, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
