// Package logger builds the shared slog logger used by every binary.
package logger

import (
	"log/slog"
	"os"
)

// New returns a slog.Logger tagged with the service name. Output is JSON for
// log shippers; set LOG_FORMAT=text for local development.
func New(service string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", service)
}
