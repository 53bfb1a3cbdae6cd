package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel represents logging verbosity levels.
type LogLevel int

// Log level constants.
const (
	LogLevelOff LogLevel = iota
	LogLevelError
	LogLevelDebug
)

// ParseLogLevel parses a log level string. Unknown values mean error.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return LogLevelOff
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelError
	}
}

// String returns the string representation of a log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelOff:
		return "off"
	case LogLevelDebug:
		return "debug"
	default:
		return "error"
	}
}

func (l LogLevel) slog() slog.Level {
	if l == LogLevelDebug {
		return slog.LevelDebug
	}
	return slog.LevelError
}

// timestampLayout prefixes text log lines.
const timestampLayout = "2006-01-02 15:04:05.000"

// Logger appends diagnostics to the configured log file. Command results
// and warnings go to stdout and stderr, never here.
type Logger struct {
	mu    sync.Mutex
	level LogLevel
	out   io.WriteCloser
	json  *slog.Logger
}

// NewLogger opens the log file named by c. A disabled level or an empty
// file yields a logger that drops everything.
func NewLogger(c LoggingConfig) (*Logger, error) {
	l := &Logger{level: ParseLogLevel(c.Level)}
	if l.level == LogLevelOff || c.File == "" {
		return l, nil
	}

	path := ExpandHome(c.File)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	// #nosec G304 -- log file path is from validated config
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	l.out = f
	if c.JSON {
		l.json = slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: l.level.slog()}))
	}
	return l, nil
}

// NullLogger returns a logger that discards all output.
func NullLogger() *Logger {
	return &Logger{level: LogLevelOff}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.write(LogLevelDebug, format, args)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.write(LogLevelError, format, args)
}

// Close closes the log file. Later writes are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	l.json = nil
	return err
}

func (l *Logger) write(level LogLevel, format string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil || level > l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.json != nil {
		l.json.Log(context.Background(), level.slog(), msg)
		return
	}
	_, _ = fmt.Fprintf(l.out, "%s [%s] %s\n",
		time.Now().Format(timestampLayout), strings.ToUpper(level.String()), msg)
}
