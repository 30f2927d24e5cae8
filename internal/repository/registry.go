package repository

import (
	"sort"
	"sync"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// SessionRegistry is the process-wide per-user state shared by the conversation
// handler and job workers. The lock guards map access only, never I/O.
type SessionRegistry struct {
	mu         sync.RWMutex
	jobs       map[domain.UserID]*domain.Job
	thumbnails map[domain.UserID]*domain.ThumbnailArtifact
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		jobs:       make(map[domain.UserID]*domain.Job),
		thumbnails: make(map[domain.UserID]*domain.ThumbnailArtifact),
	}
}

// Reserve records job for its owner.
func (r *SessionRegistry) Reserve(job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.Owner]; ok {
		return domain.ErrAlreadyRunning
	}
	r.jobs[job.Owner] = job
	return nil
}

// Release removes the owner's handle if it is still the given job.
func (r *SessionRegistry) Release(owner domain.UserID, id domain.JobID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[owner]
	if !ok || job.ID != id {
		return false
	}
	delete(r.jobs, owner)
	return true
}

// Job returns the owner's in-flight job.
func (r *SessionRegistry) Job(owner domain.UserID) (*domain.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[owner]
	return job, ok
}

// Jobs returns every in-flight job ordered by start time.
func (r *SessionRegistry) Jobs() []*domain.Job {
	r.mu.RLock()
	result := make([]*domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result
}

// PutThumbnail stores art for owner, replacing any prior artifact.
func (r *SessionRegistry) PutThumbnail(owner domain.UserID, art *domain.ThumbnailArtifact) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.thumbnails[owner] = art.Clone()
}

// Thumbnail returns a copy of the owner's artifact.
func (r *SessionRegistry) Thumbnail(owner domain.UserID) (*domain.ThumbnailArtifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	art, ok := r.thumbnails[owner]
	if !ok {
		return nil, false
	}
	return art.Clone(), true
}

// UpdateCaption mutates the owner's caption state.
func (r *SessionRegistry) UpdateCaption(owner domain.UserID, fn func(*domain.CaptionState)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	art, ok := r.thumbnails[owner]
	if !ok {
		return domain.ErrNoThumbnail
	}
	fn(&art.Caption)
	return nil
}

// ResetCaption clears caption fields and keeps the thumbnail reference.
func (r *SessionRegistry) ResetCaption(owner domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if art, ok := r.thumbnails[owner]; ok {
		art.ResetCaption()
	}
}

// ThumbnailPaths returns the local paths currently referenced by any artifact.
func (r *SessionRegistry) ThumbnailPaths() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make(map[string]struct{})
	for _, art := range r.thumbnails {
		if art.Kind == domain.ThumbnailLocal && art.Path != "" {
			paths[art.Path] = struct{}{}
		}
	}
	return paths
}

// Clear removes all state (useful for testing).
func (r *SessionRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs = make(map[domain.UserID]*domain.Job)
	r.thumbnails = make(map[domain.UserID]*domain.ThumbnailArtifact)
}
