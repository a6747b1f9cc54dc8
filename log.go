package kconsole

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel maps a config level name to a slog level. Unknown names are Info.
func LogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SetupLogging installs the default slog logger. Logs go to a rotating file
// when cfg.Log.File is set, otherwise to fallback. verbose forces debug level.
// The returned closer releases the log file.
func SetupLogging(cfg *Config, verbose bool, fallback io.Writer) io.Closer {
	level := slog.LevelInfo
	var file string
	if cfg != nil {
		level = LogLevel(cfg.Log.Level)
		file = cfg.Log.File
	}
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = fallback
	var closer io.Closer = nopCloser{}
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err == nil {
			lj := &lumberjack.Logger{
				Filename:   file,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
			w, closer = lj, lj
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
