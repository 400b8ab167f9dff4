// Package logger provides the structured logging surface used throughout
// natscore: a small ILogger / LoggerEntry interface pair
// (Debug/Info/Warn/Error plus fluent With fields) backed by
// github.com/rs/zerolog.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ILogger is the logging capability every natscore component depends on.
type ILogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	WithContext(contextID string) ILogger
	With(key string, value any) LoggerEntry
	SetLevel(level string)
}

// LoggerEntry is a logger carrying extra structured fields, built up via
// chained With calls before a terminal Debug/Info/Warn/Error call.
type LoggerEntry interface {
	With(key string, value any) LoggerEntry
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// FileConfig holds log-file rotation knobs.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config controls where and how a Logger writes.
type Config struct {
	Level     string // debug|info|warn|error
	Component string
	ToConsole bool
	ToFile    bool
	File      FileConfig
}

func DefaultConfig(component string) Config {
	return Config{
		Level:     "info",
		Component: component,
		ToConsole: true,
	}
}

var _ ILogger = (*Logger)(nil)

type Logger struct {
	zl        zerolog.Logger
	component string
	contextID string
}

// New builds a Logger per Config. Console output is colorized only when
// stdout is a real terminal (github.com/mattn/go-isatty), and file output,
// when enabled, rotates through gopkg.in/natefinch/lumberjack.v2.
func New(cfg Config) *Logger {
	var writers []io.Writer
	if cfg.ToConsole {
		useColor := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, NoColor: !useColor, TimeFormat: "15:04:05"})
	}
	if cfg.ToFile && cfg.File.Path != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    orDefault(cfg.File.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.File.MaxBackups, 5),
			MaxAge:     orDefault(cfg.File.MaxAgeDays, 7),
			Compress:   cfg.File.Compress,
		})
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	zl := zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Str("component", cfg.Component).Logger()
	zl = zl.Level(parseLevel(cfg.Level))

	return &Logger{zl: zl, component: cfg.Component}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) SetLevel(level string) {
	l.zl = l.zl.Level(parseLevel(level))
}

func (l *Logger) WithContext(contextID string) ILogger {
	return &Logger{zl: l.zl, component: l.component, contextID: contextID}
}

func (l *Logger) With(key string, value any) LoggerEntry {
	return &entry{base: l.zl.With().Interface(key, value).Logger()}
}

func (l *Logger) event(level zerolog.Level) *zerolog.Event {
	zl := l.zl
	if l.contextID != "" {
		return zl.WithLevel(level).Str("cid", l.contextID)
	}
	return zl.WithLevel(level)
}

func (l *Logger) Debug(msg string, args ...any) { l.event(zerolog.DebugLevel).Msgf(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.event(zerolog.InfoLevel).Msgf(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.event(zerolog.WarnLevel).Msgf(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.event(zerolog.ErrorLevel).Msgf(msg, args...) }

var _ LoggerEntry = (*entry)(nil)

type entry struct {
	base zerolog.Logger
}

func (e *entry) With(key string, value any) LoggerEntry {
	return &entry{base: e.base.With().Interface(key, value).Logger()}
}

func (e *entry) Debug(msg string, args ...any) { e.base.Debug().Msgf(msg, args...) }
func (e *entry) Info(msg string, args ...any)  { e.base.Info().Msgf(msg, args...) }
func (e *entry) Warn(msg string, args ...any)  { e.base.Warn().Msgf(msg, args...) }
func (e *entry) Error(msg string, args ...any) { e.base.Error().Msgf(msg, args...) }

// Noop returns a logger that discards everything, used as the zero-value
// default when a caller does not supply one.
func Noop() ILogger {
	l := New(Config{Component: "natscore", ToConsole: false})
	return l
}
