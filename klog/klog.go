// Package klog provides the logging backend whose loggers Auth,
// EgressManager, Provision, Session and the Facade write to: GetLogger
// hands out charmbracelet/log.Loggers tagged with a Prefix, all built from
// a single Backend so log level and output are set in one place.
//
// Grounded on core/log/log.go's Backend/GetLogger split, adapted from
// gopkg.in/op/go-logging.v1 to charmbracelet/log, matching how client2's
// newer code (daemon.go, pki.go) already logs.
package klog

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Backend owns the destination writer and level for every Logger handed
// out by GetLogger.
type Backend struct {
	mu     sync.RWMutex
	w      io.Writer
	level  log.Level
}

// NewBackend constructs a Backend writing to w at the given level name
// ("debug", "info", "warn", "error"; case-insensitive, defaults to info).
func NewBackend(w io.Writer, levelName string) *Backend {
	if w == nil {
		w = os.Stderr
	}
	return &Backend{w: w, level: ParseLevel(levelName)}
}

// ParseLevel maps a config-file level string onto log.Level, defaulting to
// InfoLevel for unrecognized input.
func ParseLevel(levelName string) log.Level {
	switch strings.ToUpper(levelName) {
	case "DEBUG":
		return log.DebugLevel
	case "INFO", "NOTICE":
		return log.InfoLevel
	case "WARN", "WARNING":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// SetLevel changes the level applied to every Logger subsequently handed
// out by GetLogger. Loggers already obtained keep whatever level they had
// at creation time.
func (b *Backend) SetLevel(level log.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = level
}

// GetLogger returns a per-component logger tagged with prefix.
func (b *Backend) GetLogger(prefix string) *log.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return log.NewWithOptions(b.w, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
		Level:           b.level,
	})
}
