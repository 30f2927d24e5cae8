package domain

// UploadResult describes a file published to an upload backend.
type UploadResult struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// FetchResult is what a fetcher produced on disk.
type FetchResult struct {
	Path string
	Size int64
}

// ContactSheet is a locally rendered grid of video frames.
type ContactSheet struct {
	Path    string
	Elapsed float64 // seconds spent rendering
}
