package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options select the log level and format. An empty Format picks the console
// writer when APP_ENV=dev and JSON otherwise.
type Options struct {
	Level  string
	Format string
	Out    io.Writer
}

var (
	mu      sync.RWMutex
	current = Options{Out: os.Stdout}
)

// Configure applies opts to every logger created afterwards and sets the
// global zerolog level.
func Configure(opts Options) error {
	if opts.Level != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		zerolog.SetGlobalLevel(lvl)
	}
	switch strings.ToLower(opts.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", opts.Format)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	mu.Lock()
	current = opts
	mu.Unlock()
	return nil
}

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger writing with the configured
// options. All logs include the provided component field.
func NewZerologLogger(component string) Logger {
	mu.RLock()
	opts := current
	mu.RUnlock()
	return newZerolog(component, opts)
}

func newZerolog(component string, opts Options) *ZerologLogger {
	format := strings.ToLower(opts.Format)
	if format == "" && strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		format = "console"
	}
	out := opts.Out
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: opts.Out, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(out).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

// With returns a child logger carrying an extra field, e.g. the battery name.
func (l *ZerologLogger) With(key string, value any) Logger {
	return &ZerologLogger{log: l.log.With().Interface(key, value).Logger()}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
