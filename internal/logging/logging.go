// Package logging provides the single process-wide leveled logger used
// by the listener, workers, and dispatcher.
package logging

import (
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// L returns the process-wide logger.
func L() *slog.Logger { return logger }

// SetOutput swaps the logger's destination, used by tests that want to
// capture log output.
func SetOutput(h slog.Handler) {
	logger = slog.New(h)
}

// FilterError logs an I/O or corruption error encountered for a named
// filter. Workers call this instead of propagating the error to a
// client, per the spec's "logged with the filter name... do not
// propagate to the client when encountered by a worker" rule.
func FilterError(filter string, err error) {
	logger.Error("filter error", "filter", filter, "error", err)
}

// Fatal logs a startup error (bind failure, data dir creation failure)
// at error severity (slog has no fatal level). Callers are expected to
// exit nonzero after calling this.
func Fatal(msg string, args ...any) {
	logger.Error(msg, args...)
}
