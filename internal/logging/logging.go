// Package logging sets up named, per-component structured loggers shared
// across Harmonia's subsystems.
package logging

import (
	logging "github.com/ipfs/go-log/v2"
)

func init() {
	logging.SetAllLoggers(logging.LevelInfo)
}

// Named returns a logger scoped to one component, e.g. "tempo", "scheduler".
// Every subsystem in this module calls this once at construction time rather
// than sharing a single global logger, so log lines are attributable.
func Named(component string) *logging.ZapEventLogger {
	return logging.Logger("harmonia/" + component)
}

// SetDebug raises every registered sub-logger to debug level; wired to a
// --verbose flag by cmd/harmonia.
func SetDebug(on bool) {
	if on {
		logging.SetAllLoggers(logging.LevelDebug)
	} else {
		logging.SetAllLoggers(logging.LevelInfo)
	}
}
