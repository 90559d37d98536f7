// Package obs provides the default structured logger construction shared
// by every long-lived component (batcher actor, commit pipeline, HTTP
// server): go-kit/log with a log.NewNopLogger() fallback and the
// level.Error(logger).Log("msg", ..., "err", ...) call shape throughout.
package obs

import (
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// NewJSONLogger builds the process-wide logger: JSON-formatted, UTC
// timestamps, filtered to minLevel ("debug", "info", "warn", "error").
func NewJSONLogger(minLevel string) log.Logger {
	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.TimestampFormat(func() time.Time { return time.Now().UTC() }, time.RFC3339Nano))
	return level.NewFilter(logger, levelOption(minLevel))
}

func levelOption(minLevel string) level.Option {
	switch minLevel {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// Nop returns a logger that discards everything, default
// when no logger is wired in (tests, library use).
func Nop() log.Logger { return log.NewNopLogger() }
