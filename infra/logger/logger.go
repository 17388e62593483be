package logger

import corelogger "github.com/kilianp07/marstek/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger mirrors the core no-op logger.
type NopLogger = corelogger.NopLogger

// New returns a Logger for the given component using the process-wide output
// settings applied by Configure.
func New(component string) Logger {
	return NewZerologLogger(component)
}
