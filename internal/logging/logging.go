// Package logging configures the process-wide slog handler.
package logging

import (
	"log/slog"
	"os"
)

// New returns a text logger at the level implied by the verbose and
// quiet counters. The default is warnings only; each -v steps toward
// debug, each -q steps toward errors only. Quiet wins when both are
// given.
func New(verbose, quiet int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case quiet >= 1:
		level = slog.LevelError
	case verbose == 1:
		level = slog.LevelInfo
	case verbose > 1:
		level = slog.LevelDebug
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}
