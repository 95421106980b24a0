// Package log provides the structured logger kake's core packages use to
// report registry, resolution, staleness, and execution decisions.
//
// It is a thin wrapper around sirupsen/logrus: a single process-wide
// *logrus.Logger configured once by the host (or left at its default,
// text-to-stderr) and handed out as a *logrus.Entry scoped to the calling
// component.
package log

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.RWMutex
	logger = newDefault()
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLogger replaces the process-wide logger. Intended for hosts that want
// kake's diagnostics folded into their own logging pipeline.
func SetLogger(l *logrus.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// For returns a component-scoped entry, e.g. log.For("ruleset").
func For(component string) *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return logger.WithField("component", component)
}
