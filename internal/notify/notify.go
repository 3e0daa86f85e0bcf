// Package notify delivers the end-of-run summary to the configured
// recipients. Email is the only channel; delivery goes through the
// local sendmail binary or an HTTP relay worker.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/cek/rclonebb/internal/classify"
	"github.com/cek/rclonebb/internal/types"
)

// RunReport carries everything a notifier needs to describe a finished run.
type RunReport struct {
	Mode        types.Mode
	Status      types.RunStatus
	ExitCode    int
	CommandLine string
	StartTime   time.Time
	EndTime     time.Time

	Summary    classify.Summary
	ErrorLines []string

	// CleanupWarning is set when the post-sync cleanup hook failed.
	CleanupWarning string

	// InternalErrors collects failures from housekeeping steps (prune,
	// compress) that should be surfaced in the body without changing
	// the run status.
	InternalErrors []string

	// LogPath points at the run log on disk, in whatever form it is in
	// at send time (plain or compressed). Empty disables attachment.
	LogPath string

	Hostname string
}

// Elapsed returns the wall-clock duration of the run.
func (r *RunReport) Elapsed() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// NotificationResult describes the outcome of a delivery attempt.
type NotificationResult struct {
	Success  bool
	Method   string
	Error    string
	Duration time.Duration
}

// Notifier is implemented by every notification channel.
type Notifier interface {
	// Name returns the channel name for logging.
	Name() string

	// IsEnabled reports whether this channel is configured to send.
	IsEnabled() bool

	// Send delivers the report. A non-nil error means delivery failed;
	// the result carries method and timing details either way.
	Send(ctx context.Context, report *RunReport) (*NotificationResult, error)
}

// FormatElapsed renders a duration the way the summary body expects,
// as H:MM:SS with sub-second precision dropped.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
