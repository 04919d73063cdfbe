// Package logging provides structured logging for the conductor scheduler.
// It wraps log/slog to produce JSON-formatted logs with persistent
// attributes (plan, job, phase, attempt) so every component's trace can be
// correlated without threading a context.Context through pure functions.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Log levels accepted by NewLogger.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Logger provides structured logging with persistent attributes. Safe for
// concurrent use. A nil *Logger is valid and every method becomes a no-op,
// so callers can embed "logger *logging.Logger" and skip nil checks at call
// sites (mirrored on every component in this repo).
type Logger struct {
	logger *slog.Logger
	file   *os.File
	mu     sync.Mutex
	attrs  []slog.Attr
}

// NewLogger creates a Logger writing JSON lines to {workspaceDir}/debug.log.
// If workspaceDir is empty, logs go to stderr.
func NewLogger(workspaceDir string, level string) (*Logger, error) {
	var writer io.Writer
	var file *os.File

	if workspaceDir != "" {
		if err := os.MkdirAll(workspaceDir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		logPath := filepath.Join(workspaceDir, "debug.log")
		var err error
		file, err = os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writer = file
	} else {
		writer = os.Stderr
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{logger: slog.New(handler)}, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child Logger that attaches the given key/value pairs to
// every subsequent message, in addition to any attributes already present.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	child := &Logger{logger: l.logger, file: l.file}
	child.attrs = append(append([]slog.Attr{}, l.attrs...), argsToAttrs(args)...)
	return child
}

func argsToAttrs(args []any) []slog.Attr {
	var attrs []slog.Attr
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	attrs := append(append([]slog.Attr{}, l.attrs...), argsToAttrs(args)...)
	logger := l.logger
	l.mu.Unlock()

	anyArgs := make([]any, 0, len(attrs)*2)
	for _, a := range attrs {
		anyArgs = append(anyArgs, a.Key, a.Value.Any())
	}
	logger.Log(context.Background(), level, msg, anyArgs...)
}

func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// Close flushes and closes the underlying log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
