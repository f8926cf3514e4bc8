// Package logger provides the structured logger used across the engine,
// wrapping charmbracelet/log so call sites never depend on the underlying
// library directly.
package logger

import (
	"context"
	"io"
	"os"
	"testing"

	charmlog "github.com/charmbracelet/log"
)

// LogLevel is the engine's own level enum, decoupled from the charm log
// package so config files never reference a third-party type.
type LogLevel string

const (
	DebugLevel    LogLevel = "debug"
	InfoLevel     LogLevel = "info"
	WarnLevel     LogLevel = "warn"
	ErrorLevel    LogLevel = "error"
	DisabledLevel LogLevel = "disabled"
)

// ToCharmlogLevel converts the engine level to the charm log level, defaulting
// unknown values to InfoLevel.
func (l LogLevel) ToCharmlogLevel() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case InfoLevel:
		return charmlog.InfoLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	case DisabledLevel:
		return charmlog.Level(1000)
	default:
		return charmlog.InfoLevel
	}
}

// Config controls logger construction.
type Config struct {
	Level      LogLevel
	Output     io.Writer
	JSON       bool
	AddSource  bool
	TimeFormat string
}

// DefaultConfig returns the configuration used when the host application does
// not supply one.
func DefaultConfig() *Config {
	return &Config{
		Level:      InfoLevel,
		Output:     os.Stdout,
		JSON:       false,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}
}

// TestConfig returns a logger configuration suitable for test suites: output
// is discarded and logging is disabled entirely.
func TestConfig() *Config {
	return &Config{
		Level:      DisabledLevel,
		Output:     io.Discard,
		JSON:       false,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}
}

// IsTestEnvironment reports whether the process is running under `go test`.
func IsTestEnvironment() bool {
	return testing.Testing()
}

// Logger is the structured logging interface consumed by every engine
// package. Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type charmLogger struct {
	l *charmlog.Logger
}

// NewLogger builds a Logger from cfg. A nil cfg falls back to TestConfig
// under `go test` and DefaultConfig otherwise.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		if IsTestEnvironment() {
			cfg = TestConfig()
		} else {
			cfg = DefaultConfig()
		}
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	inner := charmlog.NewWithOptions(out, charmlog.Options{
		Level:           cfg.Level.ToCharmlogLevel(),
		ReportTimestamp: true,
		ReportCaller:    cfg.AddSource,
		TimeFormat:      cfg.TimeFormat,
	})
	if cfg.JSON {
		inner.SetFormatter(charmlog.JSONFormatter)
	}
	return &charmLogger{l: inner}
}

func (c *charmLogger) Debug(msg string, keyvals ...any) { c.l.Debug(msg, keyvals...) }
func (c *charmLogger) Info(msg string, keyvals ...any)  { c.l.Info(msg, keyvals...) }
func (c *charmLogger) Warn(msg string, keyvals ...any)  { c.l.Warn(msg, keyvals...) }
func (c *charmLogger) Error(msg string, keyvals ...any) { c.l.Error(msg, keyvals...) }

func (c *charmLogger) With(keyvals ...any) Logger {
	return &charmLogger{l: c.l.With(keyvals...)}
}

type ctxKey string

// LoggerCtxKey is the context key under which a Logger is stored.
const LoggerCtxKey ctxKey = "engine_logger"

// ContextWithLogger returns a new context carrying l.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, LoggerCtxKey, l)
}

var fallback = NewLogger(nil)

// FromContext returns the logger stored in ctx, or a package-level fallback
// logger when none is present or the value is invalid.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return fallback
	}
	v := ctx.Value(LoggerCtxKey)
	if v == nil {
		return fallback
	}
	l, ok := v.(Logger)
	if !ok || l == nil {
		return fallback
	}
	return l
}
