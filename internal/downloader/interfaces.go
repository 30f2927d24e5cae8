package downloader

import (
	"context"
	"log/slog"

	"github.com/lucadibello/RimeSegateBot/internal/config"
	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// ProgressFunc receives the bytes fetched so far and the expected total.
// total is zero or negative when the size is unknown.
type ProgressFunc func(done, total int64)

// LogFunc receives lines that should be forwarded to the user.
type LogFunc func(sev domain.Severity, line string)

// Hooks are the callbacks a fetch reports through. Both are optional.
type Hooks struct {
	Progress ProgressFunc
	Log      LogFunc
}

func (h Hooks) progress(done, total int64) {
	if h.Progress != nil {
		h.Progress(done, total)
	}
}

func (h Hooks) log(sev domain.Severity, line string) {
	if h.Log != nil {
		h.Log(sev, line)
	}
}

// Destination is where a fetch writes its output.
type Destination struct {
	Dir      string
	BaseName string // normalized, without extension
}

// Fetcher retrieves media from a URL into a local file.
type Fetcher interface {
	// Fetch downloads sourceURL into dest and returns the final file.
	Fetch(ctx context.Context, sourceURL string, dest Destination, hooks Hooks) (domain.FetchResult, error)
}

// Prober checks URL accessibility without downloading full content.
type Prober interface {
	Probe(ctx context.Context, url string) (*ProbeResult, error)
}

// ProbeResult contains information about a media URL.
type ProbeResult struct {
	StatusCode    int
	ContentType   string
	ContentLength int64
	Accessible    bool
	Error         string
}

// New returns the fetch strategy selected by cfg.
func New(cfg config.DownloadConfig, logger *slog.Logger) Fetcher {
	if cfg.UseExtractor {
		return NewExtractorFetcher(cfg, logger)
	}
	return NewHTTPFetcher(cfg, logger)
}
