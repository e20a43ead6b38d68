package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with pipeline-specific context helpers
type Logger struct {
	zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output string // stdout, stderr or file path
}

// New creates a logger. An unreadable level falls back to info and an
// unopenable file falls back to stdout.
func New(cfg Config) *Logger {
	out := openOutput(cfg.Output)
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    out != os.Stdout && out != os.Stderr,
		}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return &Logger{
		Logger: zerolog.New(out).
			Level(level).
			With().
			Timestamp().
			Caller().
			Logger(),
	}
}

func openOutput(path string) io.Writer {
	switch path {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout
	}
	return f
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{Logger: fn(l.With()).Logger()}
}

// WithComponent tags entries with the emitting component
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("component", component)
	})
}

// WithSource tags entries with a topic source
func (l *Logger) WithSource(sourceType, sourceName string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("source_type", sourceType).Str("source_name", sourceName)
	})
}

// WithPostID tags entries with a post
func (l *Logger) WithPostID(id string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("post_id", id)
	})
}

// WithStage tags entries with a pipeline stage
func (l *Logger) WithStage(stage string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("stage", stage)
	})
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}
