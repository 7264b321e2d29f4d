package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger is an interface for logging
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
}

// ZeroLogger implements Logger using zerolog
type ZeroLogger struct {
	logger zerolog.Logger
}

// Option configures a ZeroLogger
type Option func(*ZeroLogger)

// New creates a new ZeroLogger writing human readable output to stderr.
// Stdout is left alone so test binaries and `go test -json` streams stay parseable.
func New(options ...Option) *ZeroLogger {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	l := &ZeroLogger{logger: zerolog.New(output).With().Timestamp().Logger()}
	for _, option := range options {
		option(l)
	}
	return l
}

// Nop returns a logger that discards everything
func Nop() *ZeroLogger {
	return &ZeroLogger{logger: zerolog.Nop()}
}

// WithLevel sets the minimum level of the logger
func WithLevel(level string) Option {
	return func(l *ZeroLogger) {
		l.logger = l.logger.Level(ParseLevel(level))
	}
}

// WithWriter replaces the output writer, mostly useful in tests
func WithWriter(w io.Writer) Option {
	return func(l *ZeroLogger) {
		l.logger = l.logger.Output(w)
	}
}

// LevelSetter is implemented by loggers whose level can change after construction
type LevelSetter interface {
	SetLevel(level string)
}

// SetLevel changes the minimum level. It is meant to be called once the
// configuration is known, before the logger is shared.
func (l *ZeroLogger) SetLevel(level string) {
	l.logger = l.logger.Level(ParseLevel(level))
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Info logs an info message
func (l *ZeroLogger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Info(), msg, fields)
}

// Warn logs a warning message
func (l *ZeroLogger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Warn(), msg, fields)
}

// Error logs an error message
func (l *ZeroLogger) Error(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Error(), msg, fields)
}

// Debug logs a debug message
func (l *ZeroLogger) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Debug(), msg, fields)
}

func (l *ZeroLogger) write(ctx context.Context, event *zerolog.Event, msg string, fields map[string]interface{}) {
	if event == nil {
		return
	}

	// Add trace and span IDs if a span is active
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			event = event.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
		}
	}

	for k, v := range fields {
		event = event.Interface(k, v)
	}

	event.Msg(msg)
}
