// Package logger builds the gateway's base zerolog.Logger: info/warn/debug
// to stdout, error/fatal/panic to stderr, level controlled by LOG_LEVEL.
// Components take a zerolog.Logger and scope it with .With().Str("component", ...)
// rather than reaching for a package-level global, so a job's logger can carry
// request-scoped fields (installation, repo, job id) through its whole call tree.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the base logger. levelName is matched case-insensitively against
// zerolog's level names ("debug", "info", "warn", "error"); anything else
// falls back to info, the same never-fail posture as the config loader.
func New(levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelName)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	writer := zerolog.MultiLevelWriter(
		specificLevelWriter{
			Writer: zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339},
			levels: []zerolog.Level{zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel},
		},
		specificLevelWriter{
			Writer: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
			levels: []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		},
	)

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// NewFromEnv builds the base logger from the LOG_LEVEL environment variable.
func NewFromEnv() zerolog.Logger {
	return New(os.Getenv("LOG_LEVEL"))
}

// specificLevelWriter routes an event to Writer only when its level appears
// in levels, letting MultiLevelWriter split a single logger's output across
// stdout and stderr by severity.
type specificLevelWriter struct {
	io.Writer
	levels []zerolog.Level
}

func (w specificLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.levels {
		if l == level {
			return w.Write(p)
		}
	}
	return len(p), nil
}
