// Package logging provides per-component logrus loggers sharing one
// configured base logger.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"amicare/internal/config"
)

var (
	base     = newBase()
	loggers  = make(map[string]*logrus.Entry)
	loggerMu sync.Mutex
	fileSink io.Closer
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)

	return l
}

// NewLogger returns the logger for a component, creating it once.
func NewLogger(component string) *logrus.Entry {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if entry, ok := loggers[component]; ok {
		return entry
	}

	entry := base.WithField("component", component)
	loggers[component] = entry

	return entry
}

// Configure applies level, format and sinks to every component logger.
// It is safe to call again after a config reload.
func Configure(cfg config.LogConfig) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		base.Warnf("unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}

	base.SetLevel(level)

	switch cfg.Format {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if fileSink != nil {
		fileSink.Close()
		fileSink = nil
	}

	if cfg.File == "" {
		base.SetOutput(os.Stderr)
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
	fileSink = rotator

	base.SetOutput(io.MultiWriter(os.Stderr, rotator))
}

// SetOutput redirects all component loggers, mainly for tests and the CLI.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	base.SetOutput(w)
}
