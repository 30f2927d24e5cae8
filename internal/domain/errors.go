package domain

import (
	"context"
	"errors"
)

// Domain errors.
var (
	// ErrValidation is returned when a URL, filename or caption field is rejected.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyRunning is returned when a user already has a job in flight.
	ErrAlreadyRunning = errors.New("a download is already running")

	// ErrNotRunning is returned when cancelling without a job in flight.
	ErrNotRunning = errors.New("no download is running")

	// ErrWouldOverwrite is returned when the destination file already exists.
	ErrWouldOverwrite = errors.New("a file with this name already exists")

	// ErrNetwork is returned when fetching the source fails.
	ErrNetwork = errors.New("network error")

	// ErrDestinationMissing is returned when the save folder does not exist.
	ErrDestinationMissing = errors.New("destination folder not found")

	// ErrRemoteNotReady is returned while the upload service is still generating a thumbnail.
	ErrRemoteNotReady = errors.New("remote resource not ready")

	// ErrPermissionDenied is returned when the upload service refuses the credentials.
	ErrPermissionDenied = errors.New("permission denied by remote service")

	// ErrRendererFailure is returned when the contact sheet cannot be rendered.
	ErrRendererFailure = errors.New("thumbnail rendering failed")

	// ErrNoThumbnail is returned when the caption wizard runs without a stored thumbnail.
	ErrNoThumbnail = errors.New("no thumbnail available")

	// ErrStorageFull is returned when there is insufficient storage space.
	ErrStorageFull = errors.New("insufficient storage space")

	// ErrRateLimited is returned when rate limited by the source.
	ErrRateLimited = errors.New("rate limited")

	// ErrURLExpired is returned when the source refuses access (401/403).
	ErrURLExpired = errors.New("media URL has expired or is forbidden")

	// ErrThumbnailTimeout is returned when remote thumbnail polling gives up.
	ErrThumbnailTimeout = errors.New("gave up waiting for remote thumbnail")

	// ErrUploadFailed is returned when the upload service rejects a file.
	ErrUploadFailed = errors.New("upload failed")
)

// JobError wraps an error with the owner and step it happened in.
type JobError struct {
	Owner UserID
	Op    string
	Err   error
}

func (e *JobError) Error() string {
	if e.Owner != 0 {
		return e.Op + " [" + e.Owner.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError creates a new JobError.
func NewJobError(owner UserID, op string, err error) *JobError {
	return &JobError{
		Owner: owner,
		Op:    op,
		Err:   err,
	}
}

// UserMessage turns a pipeline error into the single line shown to the user.
func UserMessage(err error) (Severity, string) {
	switch {
	case err == nil:
		return SeverityInfo, ""
	case errors.Is(err, context.Canceled):
		return SeverityWarning, "The download was cancelled."
	case errors.Is(err, ErrWouldOverwrite):
		return SeverityError, "A file with this name already exists in the save folder, download aborted."
	case errors.Is(err, ErrDestinationMissing):
		return SeverityError, "The save folder does not exist, download aborted."
	case errors.Is(err, ErrPermissionDenied):
		return SeverityError, "The upload service refused the request: permission denied."
	case errors.Is(err, ErrStorageFull):
		return SeverityError, "Not enough free space to store this file."
	case errors.Is(err, ErrURLExpired):
		return SeverityError, "The media URL refused access (expired or forbidden)."
	case errors.Is(err, ErrRendererFailure):
		return SeverityError, "Could not generate the thumbnail: " + err.Error()
	case errors.Is(err, ErrAlreadyRunning):
		return SeverityWarning, "You already have a download running. Use /stop to cancel it."
	case errors.Is(err, ErrNotRunning):
		return SeverityWarning, "There is no download running."
	default:
		return SeverityError, "Detected an error while processing the resource: " + err.Error()
	}
}
