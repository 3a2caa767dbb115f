package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"alertdesk/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelPanic is the most severe level accepted by sink configuration.
const LevelPanic = slog.Level(12)

// New builds a logger for configured sinks and returns a cleanup function.
// Params: cfg contains console/file sink settings.
// Returns: slog logger, cleanup callback, and setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	return build(cfg, os.Stdout)
}

func build(cfg config.LogConfig, console io.Writer) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)

	if cfg.Console.Enabled {
		handler, err := consoleHandler(cfg.Console, console)
		if err != nil {
			return nil, nil, fmt.Errorf("build console handler: %w", err)
		}
		handlers = append(handlers, handler)
	}
	if cfg.File.Enabled {
		handler, closer, err := fileHandler(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("build file handler: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, closer)
	}
	if len(handlers) == 0 {
		return nil, nil, fmt.Errorf("no log sinks enabled")
	}

	cleanup := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), cleanup, nil
	}
	return slog.New(teeHandler(handlers)), cleanup, nil
}

func consoleHandler(sink config.LogSinkConfig, dst io.Writer) (slog.Handler, error) {
	opts, err := handlerOptions(sink.Level, true)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(sink.Format) {
	case "line":
		return slog.NewTextHandler(&colorWriter{dst: dst}, opts), nil
	case "json":
		return slog.NewJSONHandler(dst, opts), nil
	default:
		return nil, fmt.Errorf("unsupported console format %q", sink.Format)
	}
}

// fileHandler writes through a size-rotated lumberjack file.
func fileHandler(sink config.LogSinkConfig) (slog.Handler, io.Closer, error) {
	opts, err := handlerOptions(sink.Level, false)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(sink.Path) == "" {
		return nil, nil, fmt.Errorf("file sink path is empty")
	}
	rotator := &lumberjack.Logger{
		Filename:   sink.Path,
		MaxSize:    sink.MaxSizeMB,
		MaxBackups: sink.MaxBackups,
		MaxAge:     sink.MaxAgeDays,
		Compress:   sink.Compress,
	}
	switch strings.ToLower(sink.Format) {
	case "line":
		return slog.NewTextHandler(rotator, opts), rotator, nil
	case "json":
		return slog.NewJSONHandler(rotator, opts), rotator, nil
	default:
		return nil, nil, fmt.Errorf("unsupported file format %q", sink.Format)
	}
}

// handlerOptions maps level name and renders the custom panic level by name.
// Console output drops the timestamp.
func handlerOptions(level string, dropTime bool) (*slog.HandlerOptions, error) {
	parsed, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return &slog.HandlerOptions{
		Level: parsed,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return attr
			}
			switch attr.Key {
			case slog.TimeKey:
				if dropTime {
					return slog.Attr{}
				}
			case slog.LevelKey:
				if lvl, ok := attr.Value.Any().(slog.Level); ok && lvl >= LevelPanic {
					return slog.String(slog.LevelKey, "PANIC")
				}
			}
			return attr
		},
	}, nil
}

// ParseLevel converts configuration level into slog.Level.
// Params: value is case-insensitive level name.
// Returns: slog level or error.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "panic":
		return LevelPanic, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported level %q", value)
	}
}
