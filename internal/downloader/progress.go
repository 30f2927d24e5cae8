package downloader

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// PercentNotifier returns a ProgressFunc that calls notify whenever the integer
// percentage is a non-zero multiple of ten. Consecutive chunks landing on the
// same multiple each trigger a call.
func PercentNotifier(notify func(pct int)) ProgressFunc {
	return func(done, total int64) {
		if total <= 0 {
			return
		}
		pct := int(done * 100 / total)
		if pct > 0 && pct%10 == 0 {
			notify(pct)
		}
	}
}

// stallWatchdog fires onStall when kick has not been called for timeout.
type stallWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
}

func newStallWatchdog(timeout time.Duration, onStall func()) *stallWatchdog {
	w := &stallWatchdog{timeout: timeout}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, onStall)
	}
	return w
}

func (w *stallWatchdog) kick() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *stallWatchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// progressReader wraps a reader to report progress, feed the stall watchdog
// and log throughput periodically.
type progressReader struct {
	reader   io.Reader
	total    int64
	done     int64
	watchdog *stallWatchdog
	progress ProgressFunc
	logger   *slog.Logger
	lastLog  time.Time
	mu       sync.Mutex
}

func newProgressReader(r io.Reader, total int64, watchdog *stallWatchdog, progress ProgressFunc, logger *slog.Logger) *progressReader {
	return &progressReader{
		reader:   r,
		total:    total,
		watchdog: watchdog,
		progress: progress,
		logger:   logger,
		lastLog:  time.Now(),
	}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	if n <= 0 {
		return n, err
	}

	p.watchdog.kick()

	p.mu.Lock()
	p.done += int64(n)
	done := p.done
	if time.Since(p.lastLog) > 30*time.Second {
		p.logProgress()
		p.lastLog = time.Now()
	}
	p.mu.Unlock()

	if p.progress != nil {
		p.progress(done, p.total)
	}
	return n, err
}

func (p *progressReader) logProgress() {
	if p.total > 0 {
		p.logger.Info("download progress",
			"downloaded", humanize.Bytes(uint64(p.done)),
			"total", humanize.Bytes(uint64(p.total)),
			"percent", p.done*100/p.total,
		)
		return
	}
	p.logger.Info("download progress", "downloaded", humanize.Bytes(uint64(p.done)))
}
