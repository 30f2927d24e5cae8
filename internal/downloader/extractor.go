package downloader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lucadibello/RimeSegateBot/internal/config"
	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

var progressLine = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)

// ExtractorFetcher is the extraction strategy: it delegates to the yt-dlp binary,
// which supports far more sites than a plain GET.
type ExtractorFetcher struct {
	binaryPath string
	cfg        config.DownloadConfig
	logger     *slog.Logger
}

// NewExtractorFetcher creates the extraction strategy.
func NewExtractorFetcher(cfg config.DownloadConfig, logger *slog.Logger) *ExtractorFetcher {
	binary := cfg.ExtractorPath
	if binary == "" {
		binary = "yt-dlp"
	}
	return &ExtractorFetcher{
		binaryPath: binary,
		cfg:        cfg,
		logger:     logger.With("component", "extractor"),
	}
}

// Args returns the command line used for a fetch.
func (e *ExtractorFetcher) Args(sourceURL string, dest Destination) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"--progress",
		"--print", "after_move:filepath",
		"-o", filepath.Join(dest.Dir, dest.BaseName+".%(ext)s"),
	}
	if e.cfg.UserAgent != "" {
		args = append(args, "--user-agent", e.cfg.UserAgent)
	}
	if e.cfg.ConvertToMP4 {
		args = append(args, "--recode-video", "mp4")
	}
	if !e.cfg.OverwriteCheck {
		args = append(args, "--force-overwrites")
	}
	return append(args, "--", sourceURL)
}

// Fetch runs yt-dlp for sourceURL and returns the file it produced.
func (e *ExtractorFetcher) Fetch(ctx context.Context, sourceURL string, dest Destination, hooks Hooks) (domain.FetchResult, error) {
	if err := checkDir(dest.Dir); err != nil {
		return domain.FetchResult{}, err
	}

	if !e.cfg.AutomaticFilename {
		hooks.log(domain.SeverityWarning, "Automatic filenames are off: a download with the same name as a saved file will overwrite it.")
	}

	args := e.Args(sourceURL, dest)
	e.logger.Info("running extractor", "url", sourceURL, "args", args)

	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return domain.FetchResult{}, fmt.Errorf("start %s: %w", e.binaryPath, err)
	}

	var (
		mu        sync.Mutex
		finalPath string
		lastError string
	)

	var g errgroup.Group
	g.Go(func() error {
		return scanLines(stdout, func(line string) {
			if path, ok := e.handleLine(line, hooks); ok {
				mu.Lock()
				finalPath = path
				mu.Unlock()
			}
		})
	})
	g.Go(func() error {
		return scanLines(stderr, func(line string) {
			if msg, ok := strings.CutPrefix(line, "ERROR:"); ok {
				mu.Lock()
				lastError = strings.TrimSpace(msg)
				mu.Unlock()
			}
			e.handleLine(line, hooks)
		})
	})

	readErr := g.Wait()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return domain.FetchResult{}, ctx.Err()
	}
	if waitErr != nil {
		if lastError != "" {
			return domain.FetchResult{}, fmt.Errorf("%w: %s", domain.ErrNetwork, lastError)
		}
		return domain.FetchResult{}, fmt.Errorf("%w: extractor failed: %v", domain.ErrNetwork, waitErr)
	}
	if readErr != nil {
		e.logger.Warn("reading extractor output", "error", readErr)
	}

	if finalPath == "" {
		finalPath, err = findOutput(dest)
		if err != nil {
			return domain.FetchResult{}, err
		}
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("stat output: %w", err)
	}
	return domain.FetchResult{Path: finalPath, Size: info.Size()}, nil
}

// handleLine classifies one output line. It returns the final file path when
// line is the printed filepath.
func (e *ExtractorFetcher) handleLine(line string, hooks Hooks) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	e.logger.Debug("extractor output", "line", line)

	if m := progressLine.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			hooks.progress(int64(pct*10), 1000)
		}
		return "", false
	}

	switch {
	case strings.HasPrefix(line, "ERROR:"):
		hooks.log(domain.SeverityError, strings.TrimSpace(strings.TrimPrefix(line, "ERROR:")))
	case strings.HasPrefix(line, "WARNING:"):
		hooks.log(domain.SeverityWarning, strings.TrimSpace(strings.TrimPrefix(line, "WARNING:")))
	case strings.HasPrefix(line, "["):
		hooks.log(domain.SeverityDebug, line)
	case filepath.IsAbs(line) || strings.ContainsRune(line, filepath.Separator):
		return line, true
	default:
		hooks.log(domain.SeverityDebug, line)
	}
	return "", false
}

// findOutput locates the produced file when yt-dlp did not print it.
func findOutput(dest Destination) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dest.Dir, globEscape(dest.BaseName)+".*"))
	if err != nil {
		return "", fmt.Errorf("glob output: %w", err)
	}
	for _, m := range matches {
		if !IsPartial(filepath.Base(m)) {
			return m, nil
		}
	}
	return "", errors.New("extractor finished without producing a file")
}

func scanLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	return scanner.Err()
}
