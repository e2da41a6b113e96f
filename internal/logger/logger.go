package logger

import (
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for the supervisor's own diagnostic log. Child
// output never goes through this path; it is owned by logfile.Manager.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes where the supervisor writes its own diagnostics.
// With File empty, logs go to stderr with the colorized text handler;
// otherwise to a lumberjack-rotated JSON file.
type Config struct {
	Level      string `mapstructure:"level"` // debug, info, warn, error
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Setup builds a slog.Logger from c and installs it as the default.
func Setup(c Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}

	var h slog.Handler
	if c.File != "" {
		w := &lj.Logger{
			Filename:   c.File,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = NewColorTextHandler(os.Stderr, opts, true)
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
