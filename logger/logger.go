package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Level  string
	Format string // "text" or "json"
	Output io.Writer
}

// New builds the process logger. An unknown level falls back to info and
// says so.
func New(cfg Config) *logrus.Logger {
	log := logrus.New()
	if cfg.Output != nil {
		log.SetOutput(cfg.Output)
	} else {
		log.SetOutput(os.Stdout)
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
		if cfg.Level != "" {
			log.WithField("level", cfg.Level).Warn("unknown log level, using info")
		}
	}
	log.SetLevel(level)
	return log
}

// Component scopes log lines to one part of the pipeline.
func Component(log logrus.FieldLogger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
