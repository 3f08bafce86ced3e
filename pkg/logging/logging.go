// Copyright 2025 Certen Protocol
//
// Structured component loggers for the blueprint runtime.

package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu   sync.Mutex
	root *logrus.Logger
)

func logger() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = logrus.New()
		root.SetOutput(os.Stderr)
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		root.SetLevel(logrus.InfoLevel)
	}
	return root
}

// Component returns a logger entry carrying the component field.
func Component(name string) *logrus.Entry {
	return logger().WithField("component", name)
}

// SetLevel configures the global log level from its string form
// ("debug", "info", "warn", "error"). Unknown levels keep the default.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger().WithField("level", level).Warn("unknown log level, keeping current")
		return
	}
	logger().SetLevel(parsed)
}
