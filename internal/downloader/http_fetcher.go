package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lucadibello/RimeSegateBot/internal/config"
	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

var errStalled = errors.New("download stalled")

const copyBufferSize = 256 * 1024

// statusError is a non-200 response from the source.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

func (e *statusError) Unwrap() error {
	return domain.ErrNetwork
}

// HTTPFetcher is the plain strategy: one streaming GET (or an HLS segment walk)
// into the save folder.
type HTTPFetcher struct {
	// client is used for short requests (Probe, playlists) with overall timeout
	client *http.Client
	// streamClient is used for streaming downloads without overall timeout
	streamClient *http.Client
	cfg          config.DownloadConfig
	retry        RetryConfig
	logger       *slog.Logger
	freeSpace    func(path string) int64
}

// NewHTTPFetcher creates the plain fetch strategy.
func NewHTTPFetcher(cfg config.DownloadConfig, logger *slog.Logger) *HTTPFetcher {
	streamTransport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		// No Timeout - the stall watchdog bounds idle time instead
		streamClient: &http.Client{
			Transport: streamTransport,
		},
		cfg:       cfg,
		retry:     RetryConfigFrom(cfg),
		logger:    logger.With("component", "http_fetcher"),
		freeSpace: FreeSpace,
	}
}

// Fetch downloads sourceURL into dest.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string, dest Destination, hooks Hooks) (domain.FetchResult, error) {
	if err := checkDir(dest.Dir); err != nil {
		return domain.FetchResult{}, err
	}

	ext := domain.ExtensionFromURL(sourceURL)
	if strings.EqualFold(ext, ".m3u8") {
		return f.fetchHLS(ctx, sourceURL, dest, hooks)
	}

	name := dest.BaseName + ext
	if f.cfg.OverwriteCheck {
		if err := checkOverwrite(dest.Dir, name); err != nil {
			return domain.FetchResult{}, err
		}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	body, size, err := f.open(ctx, sourceURL)
	if err != nil {
		return domain.FetchResult{}, err
	}
	defer body.Close()

	if err := f.checkSpace(dest.Dir, size); err != nil {
		return domain.FetchResult{}, err
	}

	f.logger.Info("fetching", "url", sourceURL, "file", name, "size", size)

	watchdog := newStallWatchdog(f.cfg.ReadTimeout, func() { cancel(errStalled) })
	defer watchdog.stop()

	reader := newProgressReader(body, size, watchdog, hooks.Progress, f.logger)
	path, written, err := writeAtomically(dest.Dir, name, func(w io.Writer) (int64, error) {
		return io.CopyBuffer(w, reader, make([]byte, copyBufferSize))
	})
	if err != nil {
		return domain.FetchResult{}, f.copyError(ctx, err)
	}

	return domain.FetchResult{Path: path, Size: written}, nil
}

// copyError maps an interrupted copy to the taxonomy.
func (f *HTTPFetcher) copyError(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errStalled) {
		return fmt.Errorf("%w: no data received for %v", domain.ErrNetwork, f.cfg.ReadTimeout)
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if errors.Is(err, domain.ErrDestinationMissing) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
}

// open issues the GET with retry and returns the body and its length (-1 if unknown).
func (f *HTTPFetcher) open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	type opened struct {
		body io.ReadCloser
		size int64
	}

	res, err := RetryWithCheck(ctx, f.retry, func() (opened, error) {
		body, size, err := f.openOnce(ctx, url)
		return opened{body, size}, err
	}, isRetryableError)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, context.Cause(ctx)
		}
		return nil, 0, fmt.Errorf("open %s: %w", url, err)
	}
	return res.body, res.size, nil
}

func (f *HTTPFetcher) openOnce(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: create request: %v", domain.ErrValidation, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "video/*,application/vnd.apple.mpegurl,*/*;q=0.8")

	resp, err := f.streamClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, 0, domain.ErrURLExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, 0, domain.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, 0, &statusError{code: resp.StatusCode}
	}

	return resp.Body, resp.ContentLength, nil
}

func (f *HTTPFetcher) checkSpace(dir string, size int64) error {
	if size <= 0 {
		return nil
	}
	free := f.freeSpace(dir)
	if free > 0 && size > free {
		return fmt.Errorf("%w: need %s, %s free", domain.ErrStorageFull,
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(free)))
	}
	return nil
}

// Probe checks URL accessibility without downloading full content.
// Servers that refuse HEAD are retried with a GET whose body is discarded.
func (f *HTTPFetcher) Probe(ctx context.Context, url string) (*ProbeResult, error) {
	result, err := f.probe(ctx, http.MethodHead, url)
	if err != nil {
		return nil, err
	}
	if result.StatusCode == http.StatusMethodNotAllowed || result.StatusCode == http.StatusNotImplemented {
		return f.probe(ctx, http.MethodGet, url)
	}
	return result, nil
}

func (f *HTTPFetcher) probe(ctx context.Context, method, url string) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return &ProbeResult{
			Accessible: false,
			Error:      err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	result := &ProbeResult{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Accessible:    resp.StatusCode == http.StatusOK,
	}
	if !result.Accessible {
		result.Error = fmt.Sprintf("status code %d", resp.StatusCode)
	}
	return result, nil
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrURLExpired) || errors.Is(err, domain.ErrValidation) {
		return false
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return errors.Is(err, domain.ErrNetwork)
}

// writeAtomically writes into <dir>/<name>.part through write and renames the
// result to <dir>/<name> on success. The part file is removed on failure.
func writeAtomically(dir, name string, write func(io.Writer) (int64, error)) (string, int64, error) {
	final := filepath.Join(dir, name)
	part := final + PartSuffix

	file, err := os.Create(part)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", 0, fmt.Errorf("%w: %s", domain.ErrDestinationMissing, dir)
		}
		return "", 0, fmt.Errorf("create file: %w", err)
	}

	written, err := write(file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return "", written, err
	}

	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return "", written, fmt.Errorf("rename file: %w", err)
	}
	return final, written, nil
}
