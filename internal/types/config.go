package types

// RunMode defines how the processor entry point behaves.
type RunMode string

const (
	// ModeOnce runs a single processing pass and exits.
	ModeOnce RunMode = "once"
	// ModeInterval re-runs the processing pass on a fixed interval.
	ModeInterval RunMode = "interval"
)

// LogLevel defines the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)
