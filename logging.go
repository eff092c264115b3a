package scopebus

import (
	"os"

	"github.com/charmbracelet/log"
)

// baseLogger is shared by every driver instance; each driver narrows it
// with With() so log lines carry their instrument identity.
var baseLogger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "scopebus",
})

// SetLogLevel adjusts verbosity for the whole package. Info carries
// ScopeEngine state transitions (arm, trigger, frame end), Warn
// short-block and short-preamble discards, Error an acquisition that
// stopped on an error. Nothing is logged at Debug level, and the DSLogic
// pipeline does not log.
func SetLogLevel(level log.Level) {
	baseLogger.SetLevel(level)
}

func instrumentLogger(family, serial string) *log.Logger {
	return baseLogger.With("family", family, "serial", serial)
}
