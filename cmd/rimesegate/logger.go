package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/lucadibello/RimeSegateBot/internal/config"
)

// newLogger builds the process logger. The "auto" format writes text to a
// terminal and JSON otherwise.
func newLogger(cfg config.LogConfig, out *os.File) *slog.Logger {
	return slog.New(newHandler(cfg, out, term.IsTerminal(int(out.Fd()))))
}

func newHandler(cfg config.LogConfig, out io.Writer, tty bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	switch strings.ToLower(cfg.Format) {
	case "text":
		return slog.NewTextHandler(out, opts)
	case "json":
		return slog.NewJSONHandler(out, opts)
	default:
		if tty {
			return slog.NewTextHandler(out, opts)
		}
		return slog.NewJSONHandler(out, opts)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
