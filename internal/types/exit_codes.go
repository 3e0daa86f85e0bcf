// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
//
// The values are stable so that cron wrappers and systemd units can
// distinguish failure causes without parsing output.
type ExitCode int

const (
	// ExitSuccess - Run completed successfully and the notification was delivered.
	ExitSuccess ExitCode = 0

	// ExitPartialFailure - rclone exited zero but its output contained errors.
	ExitPartialFailure ExitCode = 1

	// ExitConfigError - Configuration error (invalid flags or settings file).
	ExitConfigError ExitCode = 2

	// ExitToolFailure - rclone ran and reported a failure.
	ExitToolFailure ExitCode = 3

	// ExitExecutionError - rclone could not be spawned at all.
	ExitExecutionError ExitCode = 4

	// ExitIOError - The run log could not be created or written.
	ExitIOError ExitCode = 5

	// ExitNotificationError - The run succeeded but the notification failed.
	ExitNotificationError ExitCode = 6
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitPartialFailure:
		return "partial failure"
	case ExitConfigError:
		return "configuration error"
	case ExitToolFailure:
		return "tool failure"
	case ExitExecutionError:
		return "execution error"
	case ExitIOError:
		return "I/O error"
	case ExitNotificationError:
		return "notification error"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as a plain integer for os.Exit.
func (e ExitCode) Int() int {
	return int(e)
}
