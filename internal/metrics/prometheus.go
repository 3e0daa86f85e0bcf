// Package metrics exports run results in Prometheus textfile format so a
// node_exporter textfile collector can scrape the last backup outcome.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cek/rclonebb/internal/logging"
	"github.com/cek/rclonebb/internal/types"
)

// RunMetrics represents the subset of run statistics exported as Prometheus metrics.
type RunMetrics struct {
	Hostname string
	Mode     types.Mode
	Version  string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	ExitCode int
	Status   types.RunStatus

	// Counters are nil when the run produced no parseable output.
	NewFiles      *int
	ReplacedFiles *int
	DeletedFiles  *int
	Differences   *int

	ErrorLines   int
	LogSizeBytes int64
}

// PrometheusExporter writes run metrics in Prometheus textfile format for node_exporter.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

// Export writes the given metrics snapshot to rclonebb.prom in textfileDir.
// The file is written to a temp path and renamed so the collector never
// sees a partial file.
func (pe *PrometheusExporter) Export(m *RunMetrics) error {
	if pe == nil || m == nil {
		return nil
	}

	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}

	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	tmpPath := filepath.Join(pe.textfileDir, "rclonebb.prom.tmp")
	finalPath := filepath.Join(pe.textfileDir, "rclonebb.prom")

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create metrics file %s: %w", tmpPath, err)
	}
	defer f.Close()

	writeMetric := func(name, mtype, help, value string) {
		fmt.Fprintf(f, "# HELP %s %s\n", name, help)
		fmt.Fprintf(f, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintln(f, value)
	}

	startTs := float64(m.StartTime.Unix())
	endTs := float64(m.EndTime.Unix())
	if m.EndTime.IsZero() && !m.StartTime.IsZero() {
		endTs = float64(m.StartTime.Unix() + int64(m.Duration.Seconds()))
	}

	// Status gauge: 0=success, 1=partial failure, 2=failure
	status := 0
	switch m.Status {
	case types.StatusPartialFailure:
		status = 1
	case types.StatusFailure:
		status = 2
	}

	writeMetric(
		"rclonebb_start_time_seconds",
		"gauge",
		"Unix timestamp of run start",
		fmt.Sprintf("rclonebb_start_time_seconds %.0f", startTs),
	)

	writeMetric(
		"rclonebb_end_time_seconds",
		"gauge",
		"Unix timestamp of run end",
		fmt.Sprintf("rclonebb_end_time_seconds %.0f", endTs),
	)

	writeMetric(
		"rclonebb_duration_seconds",
		"gauge",
		"Duration of last run in seconds",
		fmt.Sprintf("rclonebb_duration_seconds %.2f", m.Duration.Seconds()),
	)

	writeMetric(
		"rclonebb_exit_code",
		"gauge",
		"Exit code of last run",
		fmt.Sprintf("rclonebb_exit_code %d", m.ExitCode),
	)

	writeMetric(
		"rclonebb_status",
		"gauge",
		"Status of last run (0=success,1=partial failure,2=failure)",
		fmt.Sprintf("rclonebb_status %d", status),
	)

	writeMetric(
		"rclonebb_error_lines_total",
		"gauge",
		"Number of ERROR and NOTICE lines in last run output",
		fmt.Sprintf("rclonebb_error_lines_total %d", m.ErrorLines),
	)

	writeMetric(
		"rclonebb_log_size_bytes",
		"gauge",
		"Size of last run log file in bytes",
		fmt.Sprintf("rclonebb_log_size_bytes %d", m.LogSizeBytes),
	)

	// Per-operation file counts. Counters unavailable for the run are
	// omitted rather than exported as zero.
	fmt.Fprintf(f, "# HELP rclonebb_files_total Files affected by the last run per operation\n")
	fmt.Fprintf(f, "# TYPE rclonebb_files_total gauge\n")
	writeCounter := func(operation string, value *int) {
		if value == nil {
			return
		}
		fmt.Fprintf(f, "rclonebb_files_total{operation=%q} %d\n", operation, *value)
	}
	writeCounter("new", m.NewFiles)
	writeCounter("replaced", m.ReplacedFiles)
	writeCounter("deleted", m.DeletedFiles)

	if m.Differences != nil {
		fmt.Fprintf(f, "# HELP rclonebb_differences_total Differences reported by the last check run\n")
		fmt.Fprintf(f, "# TYPE rclonebb_differences_total gauge\n")
		fmt.Fprintf(f, "rclonebb_differences_total %d\n", *m.Differences)
	}

	fmt.Fprintf(f, "# HELP rclonebb_info Static information about this instance\n")
	fmt.Fprintf(f, "# TYPE rclonebb_info gauge\n")
	fmt.Fprintf(
		f,
		"rclonebb_info{hostname=%q,mode=%q,version=%q} 1\n",
		m.Hostname,
		m.Mode.String(),
		m.Version,
	)

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync metrics file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename metrics file to %s: %w", finalPath, err)
	}

	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", finalPath)
	}

	return nil
}
