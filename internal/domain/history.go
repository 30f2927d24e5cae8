package domain

import "time"

// HistoryEntry records one completed download-and-publish run.
type HistoryEntry struct {
	ID          JobID     `json:"id"`
	Owner       UserID    `json:"owner"`
	SourceURL   string    `json:"source_url"`
	Filename    string    `json:"filename"`
	RemoteID    string    `json:"remote_id,omitempty"`
	RemoteURL   string    `json:"remote_url,omitempty"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
