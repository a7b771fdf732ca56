/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package tracelog is weld's ambient logging surface: a thin, leveled
// wrapper over logrus, split into a low-volume "trace" stream for
// lifecycle events and a leveled "log" for everything else, so the rest
// of the engine never talks to logrus directly.
package tracelog

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level is a FINE/INFO/WARNING/SEVERE severity ladder.
type Level int

const (
	FINE Level = iota
	INFO
	WARNING
	SEVERE
)

var (
	mu     sync.Mutex
	logger = logrus.New()
	inited bool
)

// Init wires the default logger. Safe to call more than once; later calls
// are no-ops so tests can call it unconditionally.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if inited {
		return
	}
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableColors: false})
	logger.SetLevel(logrus.InfoLevel)
	inited = true
}

// SetOutput redirects the log stream, used by tests to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// SetLogLevel sets the minimum level that will be emitted.
func SetLogLevel(l Level) error {
	mu.Lock()
	defer mu.Unlock()
	switch l {
	case FINE:
		logger.SetLevel(logrus.DebugLevel)
	case INFO:
		logger.SetLevel(logrus.InfoLevel)
	case WARNING:
		logger.SetLevel(logrus.WarnLevel)
	case SEVERE:
		logger.SetLevel(logrus.ErrorLevel)
	}
	return nil
}

// Log emits msg at the given level.
func Log(msg string, l Level) error {
	if !inited {
		Init()
	}
	switch l {
	case FINE:
		logger.Debug(msg)
	case INFO:
		logger.Info(msg)
	case WARNING:
		logger.Warn(msg)
	case SEVERE:
		logger.Error(msg)
	}
	return nil
}

// Trace is the low-volume lifecycle stream (config load, mixin apply,
// injection prepare/inject/postInject), tagged stream=trace and emitted at
// INFO level, so a log level of WARNING or SEVERE suppresses it.
func Trace(msg string) {
	if !inited {
		Init()
	}
	logger.WithField("stream", "trace").Info(msg)
}

// Error logs an always-on error.
func Error(msg string) {
	if !inited {
		Init()
	}
	logger.WithField("stream", "trace").Error(msg)
}

// Warning logs a warning tagged stream=trace; a SEVERE log level
// suppresses it.
func Warning(msg string) {
	if !inited {
		Init()
	}
	logger.WithField("stream", "trace").Warn(msg)
}
