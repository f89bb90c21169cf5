// Package logging builds the structured logger shared by the composition
// root and everything it wires together.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/fluxgate/tsingest/internal/config"
)

// New builds a *slog.Logger from cfg. The returned io.Closer, if non-nil,
// must be closed by the caller once the logger is no longer needed (it is
// nil for the stdout/stderr cases).
func New(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	var lvl slog.Level
	switch cfg.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	writer, closer := resolveOutput(cfg.Output)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	return slog.New(handler), closer
}

func resolveOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return os.Stdout, nil
		}
		return f, f
	}
}
