// Package logging hands out per-component logrus entries that share one
// configured logger.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Options controls the shared logger.
type Options struct {
	Level  string
	Format string // "auto", "text" or "json"
	Output io.Writer
}

var (
	base      = newBase()
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&TextFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Configure applies opts to the shared logger. Entries handed out earlier
// pick the change up since they all point at the same logger.
func Configure(opts Options) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	base.SetOutput(out)
	base.SetFormatter(formatterFor(opts.Format, out))
}

func formatterFor(format string, out io.Writer) logrus.Formatter {
	switch format {
	case "json":
		return &logrus.JSONFormatter{}
	case "text":
		return &TextFormatter{}
	}
	// auto: plain text on a terminal, JSON when piped to a collector
	if f, ok := out.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return &logrus.JSONFormatter{}
	}
	return &TextFormatter{}
}

// NewLogger returns the entry for component, creating it on first use.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}
	entry := base.WithField("component", component)
	loggers[component] = entry
	return entry
}
