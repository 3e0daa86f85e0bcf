package notify

import (
	"fmt"
	"strings"

	"github.com/cek/rclonebb/internal/classify"
	"github.com/cek/rclonebb/internal/types"
)

// BuildSubject builds the summary email subject line.
func BuildSubject(report *RunReport) string {
	return fmt.Sprintf("%s rclonebb %s summary - %s",
		report.Status.Emoji(), report.Mode, report.EndTime.Format("2006-01-02 15:04:05"))
}

// BuildBody builds the plain text summary body.
func BuildBody(report *RunReport) string {
	var body strings.Builder

	body.WriteString(fmt.Sprintf("Start time: %s\n", report.StartTime.Format("2006-01-02 15:04:05")))
	body.WriteString(fmt.Sprintf("Completion time: %s\n", report.EndTime.Format("2006-01-02 15:04:05")))
	body.WriteString(fmt.Sprintf("Elapsed time: %s\n\n", FormatElapsed(report.Elapsed())))

	body.WriteString(fmt.Sprintf("Command line: %s\n\n", report.CommandLine))

	switch report.Mode {
	case types.ModeSync:
		body.WriteString("Summary of rclone sync:\n")
		body.WriteString(fmt.Sprintf("New files synced: %s\n", classify.FormatCounter(report.Summary.NewFiles)))
		body.WriteString(fmt.Sprintf("Files replaced: %s\n", classify.FormatCounter(report.Summary.ReplacedFiles)))
		body.WriteString(fmt.Sprintf("Files deleted: %s\n\n", classify.FormatCounter(report.Summary.DeletedFiles)))
		if report.Summary.StatsBlock != "" {
			body.WriteString(fmt.Sprintf("Rclone statistics:\n%s\n\n", report.Summary.StatsBlock))
		}
	case types.ModeCheck, types.ModeCryptCheck:
		body.WriteString(fmt.Sprintf("Summary of rclone %s:\n", report.Mode))
		body.WriteString(fmt.Sprintf("Differences found: %s\n\n", classify.FormatCounter(report.Summary.Differences)))
	}

	if len(report.ErrorLines) > 0 {
		body.WriteString("ERRORs and NOTICEs:\n")
		body.WriteString(strings.Join(report.ErrorLines, "\n"))
		body.WriteString("\n\n")
	}

	if report.CleanupWarning != "" {
		body.WriteString(fmt.Sprintf("Cleanup warning: %s\n\n", report.CleanupWarning))
	}

	for _, msg := range report.InternalErrors {
		body.WriteString(msg)
		body.WriteString("\n")
	}

	body.WriteString(fmt.Sprintf("Exit code: %d\n", report.ExitCode))
	if report.Hostname != "" {
		body.WriteString(fmt.Sprintf("Host: %s\n", report.Hostname))
	}

	return body.String()
}
