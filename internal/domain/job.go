package domain

import (
	"context"
	"sync"
	"time"
)

// JobID is a unique identifier for a job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobStatus represents the current phase of a job.
type JobStatus string

const (
	JobStatusDownloading JobStatus = "downloading"
	JobStatusUploading   JobStatus = "uploading"
	JobStatusThumbnail   JobStatus = "thumbnail"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

// Job is the handle of one in-flight download for a user. At most one exists per
// owner; the session registry holds it until the worker finishes or it is cancelled.
type Job struct {
	ID        JobID
	Owner     UserID
	Request   Request
	BaseName  string
	StartedAt time.Time

	mu        sync.Mutex
	status    JobStatus
	lastError string
	updatedAt time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// NewJob creates a job handle. cancel is invoked by Cancel; it may be nil.
func NewJob(id JobID, owner UserID, req Request, baseName string, cancel context.CancelFunc) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Owner:     owner,
		Request:   req,
		BaseName:  baseName,
		StartedAt: now,
		status:    JobStatusDownloading,
		updatedAt: now,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Status returns the current phase and the time it was entered.
func (j *Job) Status() (JobStatus, time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status, j.updatedAt
}

// LastError returns the failure message recorded by MarkFailed.
func (j *Job) LastError() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastError
}

// SetStatus moves the job to the given phase.
func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	j.status = status
	j.updatedAt = time.Now()
	j.mu.Unlock()
}

// MarkFailed records a failure.
func (j *Job) MarkFailed(err string) {
	j.mu.Lock()
	j.status = JobStatusFailed
	j.lastError = err
	j.updatedAt = time.Now()
	j.mu.Unlock()
}

// Cancel signals the worker running this job.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// Finish marks the worker as returned. Safe to call more than once.
func (j *Job) Finish() {
	j.doneOnce.Do(func() { close(j.done) })
}

// Done is closed once the worker running this job has returned.
func (j *Job) Done() <-chan struct{} {
	return j.done
}
