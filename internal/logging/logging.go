package logging

import (
	"io"
	"strings"
	"time"

	"mortgagedapp/internal/config"

	"github.com/charmbracelet/log"
)

// New builds the process logger. Unknown levels fall back to info and unknown
// formats to the human-readable text formatter.
func New(w io.Writer, cfg config.LogConfig) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "mortgagedapp",
	})

	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(log.JSONFormatter)
	case "logfmt":
		logger.SetFormatter(log.LogfmtFormatter)
	default:
		logger.SetFormatter(log.TextFormatter)
	}
	return logger
}
