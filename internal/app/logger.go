package app

import (
	"io"
	"log/slog"

	"duck-bi/internal/config"
)

// NewLogger returns the process logger: JSON in production, text otherwise,
// at the configured level.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
