// Package logger configures the process-wide logrus logger.
package logger

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"ZoomSpectra/internal/config"
)

// Setup applies the level and format from cfg to the standard logger.
func Setup(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch cfg.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return nil
}
