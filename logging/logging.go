// Package logging builds the slog logger shared by the command binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a text logger on terminals and a JSON logger otherwise. The
// returned level can be adjusted after construction.
func New(verbose bool) (*slog.Logger, *slog.LevelVar) {
	return NewFor(os.Stdout, isTerminal(os.Stdout), verbose)
}

// NewFor builds the logger for w.
func NewFor(w io.Writer, text, verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

// Install makes logger the process default.
func Install(logger *slog.Logger, level *slog.LevelVar) {
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
