package app

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger returns a configured slog.Logger based on configuration.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	format, level := "pretty", slog.LevelInfo
	if cfg != nil {
		format = cfg.LogFormat
		if l, err := parseLevel(cfg.LogLevel); err == nil {
			level = l
		}
	}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true, Level: level}))
	case "text":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{AddSource: true, Level: level}))
	default:
		return slog.New(tint.NewHandler(w, &tint.Options{AddSource: true, Level: level, TimeFormat: time.Kitchen}))
	}
}
