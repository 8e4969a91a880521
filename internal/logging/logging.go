// Package logging configures structured logging via zerolog.
//
// Stdout belongs to command results, so logs default to stderr in console
// format at warn level. Setup replaces the global logger used by the
// rest of the module through github.com/rs/zerolog/log.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Options controls level, format and destination.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // console|json
	Output string // stderr|stdout|<file path>
}

// New creates a zerolog.Logger from opts. The returned closer releases any
// file opened for output and is never nil.
func New(opts Options) (zerolog.Logger, io.Closer) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.WarnLevel
	}

	var writer io.Writer
	var closer io.Closer = nopCloser{}
	switch opts.Output {
	case "stderr", "":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		f, err := os.OpenFile(opts.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			writer = os.Stderr
		} else {
			writer = f
			closer = f
		}
	}

	if opts.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger(), closer
}

// Setup installs the logger built from opts as the global logger.
func Setup(opts Options) io.Closer {
	logger, closer := New(opts)
	log.Logger = logger
	return closer
}

// WithRequestID returns a context carrying id and a logger tagged with it.
func WithRequestID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, id)
	logger := log.Logger.With().Str("request_id", id).Logger()
	return logger.WithContext(ctx)
}

// RequestID retrieves the request id from ctx.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// From returns the logger attached to ctx, or the global logger.
func From(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
