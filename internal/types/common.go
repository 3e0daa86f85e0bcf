package types

// Mode represents the rclone operation being orchestrated.
type Mode string

const (
	// ModeSync - one-way synchronization from the local directory to the remote.
	ModeSync Mode = "sync"

	// ModeCheck - integrity comparison without transferring data.
	ModeCheck Mode = "check"

	// ModeCryptCheck - integrity comparison against an encrypted remote.
	ModeCryptCheck Mode = "cryptcheck"
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// Valid reports whether the mode is one of the supported operations.
func (m Mode) Valid() bool {
	switch m {
	case ModeSync, ModeCheck, ModeCryptCheck:
		return true
	}
	return false
}

// RunStatus classifies the overall outcome of a run.
type RunStatus string

const (
	// StatusSuccess - the subprocess exited zero with no errors in its output.
	StatusSuccess RunStatus = "success"

	// StatusPartialFailure - the subprocess exited zero but reported errors.
	StatusPartialFailure RunStatus = "partial failure"

	// StatusFailure - the subprocess exited non-zero or could not run.
	StatusFailure RunStatus = "failure"
)

// String returns the string representation of the run status.
func (s RunStatus) String() string {
	return string(s)
}

// Emoji returns the glyph used in notification subjects for this status.
func (s RunStatus) Emoji() string {
	switch s {
	case StatusSuccess:
		return "✅"
	case StatusPartialFailure:
		return "⚠️"
	default:
		return "❌"
	}
}

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}
