// Package logger provides the ambient structured logger used by process-level
// code (startup, shutdown, config, consumer lifecycle). The engine hot path
// uses pkg/tracing and its own zerolog instance instead.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger so callers can add helpers without losing the
// familiar logrus API.
type Logger struct {
	*logrus.Logger
}

// Config controls level and format of ambient logs; output always goes to
// stdout.
type Config struct {
	Level  string `mapstructure:"level" envconfig:"LEVEL" default:"info"`
	Format string `mapstructure:"format" envconfig:"FORMAT" default:"json"`
}

// New builds a Logger from Config.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l.SetOutput(os.Stdout)
	return &Logger{Logger: l}
}

// NewDefault returns a Logger at info level, text format. name is not
// attached to the returned Logger's log lines.
func NewDefault(name string) *Logger {
	l := New(Config{Level: "info", Format: "text"})
	return &Logger{Logger: l.WithField("component", name).Logger}
}

// WithField returns a new log entry with a field attached.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a new log entry with multiple fields attached.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// Scoped returns an entry pre-populated with tenant/workspace/agent fields.
func (l *Logger) Scoped(tenant, workspace, agent string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"tenant":    tenant,
		"workspace": workspace,
		"agent":     agent,
	})
}
