// Package classify reduces captured rclone output plus the subprocess
// exit code to a structured run outcome. It never fails: unparseable
// output still yields an outcome derived from the exit code alone.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cek/rclonebb/internal/logstore"
	"github.com/cek/rclonebb/internal/types"
)

// counterMarker maps a known rclone output marker to a named counter.
// rclone's text output is not a stable contract; revisit this table
// when the pinned rclone version changes.
type counterMarker struct {
	substr  string
	counter string
}

var counterMarkers = []counterMarker{
	{substr: ": Copied (new)", counter: "new"},
	{substr: ": Copied (replaced", counter: "replaced"},
	{substr: ": Deleted", counter: "deleted"},
}

// Lines carrying these markers are surfaced in the notification body.
// ERROR lines also degrade an exit-zero run to a partial failure;
// NOTICE lines (check differences, skipped files) are informational.
const (
	errorMarker  = "ERROR"
	noticeMarker = "NOTICE"
)

var differencesRe = regexp.MustCompile(`(\d+) differences found`)

// How many trailing lines form the rclone statistics block.
const statsBlockLines = 6

// Summary holds the counters extracted from the output. Nil pointers
// mean the counter could not be determined and render as "unknown"
// rather than zero.
type Summary struct {
	NewFiles      *int
	ReplacedFiles *int
	DeletedFiles  *int
	Differences   *int

	StatsBlock string
}

// FormatCounter renders a counter for human consumption.
func FormatCounter(v *int) string {
	if v == nil {
		return "unknown"
	}
	return strconv.Itoa(*v)
}

// Outcome is the classified result of one run, consumed by the cleanup
// trigger and the reporter. Log points back at the run's LogRecord;
// the raw output is not duplicated here.
type Outcome struct {
	Status   types.RunStatus
	Mode     types.Mode
	ExitCode int
	Summary  Summary

	// ERROR and NOTICE lines reproduced in the notification body.
	ErrorLines []string

	// Filled by the orchestrator when the cleanup subprocess failed.
	CleanupWarning string

	Log *logstore.LogRecord
}

// Classify reduces mode, exit code and captured output to an Outcome.
//
// Decision rule: exit 0 with no ERROR markers is a success; exit 0 with
// ERROR markers is a partial failure (rclone completed but individual
// files failed); any non-zero exit is a failure regardless of output.
func Classify(mode types.Mode, exitCode int, output string) *Outcome {
	outcome := &Outcome{
		Mode:     mode,
		ExitCode: exitCode,
	}

	lines := splitLines(output)
	hasErrors := false
	for _, line := range lines {
		if strings.Contains(line, errorMarker) {
			hasErrors = true
		}
		if strings.Contains(line, errorMarker) || strings.Contains(line, noticeMarker) {
			outcome.ErrorLines = append(outcome.ErrorLines, line)
		}
	}

	switch {
	case exitCode != 0:
		outcome.Status = types.StatusFailure
	case hasErrors:
		outcome.Status = types.StatusPartialFailure
	default:
		outcome.Status = types.StatusSuccess
	}

	outcome.Summary = extractSummary(mode, lines)
	return outcome
}

func extractSummary(mode types.Mode, lines []string) Summary {
	var summary Summary
	if len(lines) == 0 {
		// Nothing to count; every counter stays unknown.
		return summary
	}

	switch mode {
	case types.ModeSync:
		counts := make(map[string]int, len(counterMarkers))
		for _, line := range lines {
			for _, marker := range counterMarkers {
				if strings.Contains(line, marker.substr) {
					counts[marker.counter]++
				}
			}
		}
		newFiles := counts["new"]
		replaced := counts["replaced"]
		deleted := counts["deleted"]
		summary.NewFiles = &newFiles
		summary.ReplacedFiles = &replaced
		summary.DeletedFiles = &deleted
		summary.StatsBlock = tailBlock(lines, statsBlockLines)

	case types.ModeCheck, types.ModeCryptCheck:
		for _, line := range lines {
			if m := differencesRe.FindStringSubmatch(line); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					summary.Differences = &n
				}
			}
		}
		summary.StatsBlock = tailBlock(lines, statsBlockLines)
	}

	return summary
}

func splitLines(output string) []string {
	if strings.TrimSpace(output) == "" {
		return nil
	}
	raw := strings.Split(strings.TrimRight(output, "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		lines = append(lines, strings.TrimRight(line, "\r"))
	}
	return lines
}

func tailBlock(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
