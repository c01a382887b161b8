// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fileTimeLayout names log files RHBot-YYYY-MM-DD_HH-MM-SS.log.
const fileTimeLayout = "2006-01-02_15-04-05"

// ParseLevel maps a level name to a slog.Level; unknown names yield info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

// FileName returns the log file name for a start time.
func FileName(t time.Time) string {
	return "RHBot-" + t.Format(fileTimeLayout) + ".log"
}

// Setup builds a text logger writing to stdout and, when dir is non-empty,
// to a new timestamped file in dir. The returned closer closes that file.
func Setup(dir, level string) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, FileName(time.Now())), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	logger := New(w, level).With("logger", "RHBot")
	slog.SetDefault(logger)
	return logger, closer, nil
}

// New returns a text logger writing to w at the named level.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Latest returns the newest log file in dir, or "" if there is none.
func Latest(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "RHBot-*.log"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	// Timestamped names sort chronologically
	latest := matches[0]
	for _, m := range matches[1:] {
		if m > latest {
			latest = m
		}
	}
	return latest
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
