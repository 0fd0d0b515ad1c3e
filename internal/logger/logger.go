package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARN"
	LogLevelError    LogLevel = "ERROR"
	LogLevelDecision LogLevel = "DECISION"
	LogLevelDebug    LogLevel = "DEBUG"
)

// Config controls where and how the core writes its logs
type Config struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

// DefaultConfig returns the logging defaults used when the config file omits them
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Dir:        "logs",
		File:       "risk-core.log",
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
		Console:    true,
	}
}

// Logger wraps slog with the level-named helpers used throughout the core
type Logger struct {
	slog   *slog.Logger
	closer io.Closer
}

// New creates a JSON logger writing to a rotating file and optionally stdout
func New(cfg Config) (*Logger, error) {
	var writers []io.Writer
	var closer io.Closer

	if cfg.File != "" {
		if cfg.Dir != "" {
			if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, cfg.File),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, rotator)
		closer = rotator
	}
	if cfg.Console || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	})

	return &Logger{slog: slog.New(handler), closer: closer}, nil
}

// NewWithWriter creates a logger writing JSON lines to w, mostly for tests
func NewWithWriter(w io.Writer, level string) *Logger {
	return &Logger{slog: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return NewWithWriter(io.Discard, "error")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a child logger tagged with the component name
func (l *Logger) With(component string) *Logger {
	return &Logger{slog: l.slog.With(slog.String("component", component)), closer: l.closer}
}

// Slog exposes the underlying structured logger
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	switch level {
	case LogLevelDebug:
		l.slog.Debug(message)
	case LogLevelWarning:
		l.slog.Warn(message)
	case LogLevelError:
		l.slog.Error(message)
	case LogLevelDecision:
		l.slog.Info(message, slog.String("kind", "decision"))
	default:
		l.slog.Info(message)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.Log(LogLevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Decision logs an orchestration outcome
func (l *Logger) Decision(format string, args ...interface{}) {
	l.Log(LogLevelDecision, format, args...)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.slog.Error(context, slog.String("error", fmt.Sprint(err)))
}

// LogWarning logs warning with context
func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	l.Warning("%s: %s", context, fmt.Sprintf(message, args...))
}

// Close flushes and closes the rotating file, if any
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
