// Package orchestrator drives one backup run end to end: open the run
// log, execute rclone, classify the output, fire the cleanup hook,
// rotate logs and deliver the summary notification.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cek/rclonebb/internal/classify"
	"github.com/cek/rclonebb/internal/config"
	"github.com/cek/rclonebb/internal/logging"
	"github.com/cek/rclonebb/internal/logstore"
	"github.com/cek/rclonebb/internal/metrics"
	"github.com/cek/rclonebb/internal/notify"
	"github.com/cek/rclonebb/internal/runner"
	"github.com/cek/rclonebb/internal/types"
)

// runState enumerates the phases of a run. Every state after Logging is
// entered even when an earlier phase failed, so the log is always
// rotated and the notification always attempted.
type runState int

const (
	stateLogging runState = iota
	stateRunning
	stateClassifying
	stateCleanup
	statePruning
	stateReporting
	stateDone
)

func (s runState) String() string {
	switch s {
	case stateLogging:
		return "logging"
	case stateRunning:
		return "running"
	case stateClassifying:
		return "classifying"
	case stateCleanup:
		return "cleanup"
	case statePruning:
		return "pruning"
	case stateReporting:
		return "reporting"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// commandRunner is the slice of runner.Runner the orchestrator needs.
type commandRunner interface {
	BuildArgs(mode types.Mode) []string
	Run(ctx context.Context, mode types.Mode, logSink io.Writer) (int, string, error)
	Cleanup(ctx context.Context) (string, error)
}

// Orchestrator coordinates one run. Construct with New, then call Run
// exactly once.
type Orchestrator struct {
	cfg      *config.RunConfiguration
	logger   *logging.Logger
	store    *logstore.Store
	run       commandRunner
	notifier  notify.Notifier
	bootstrap *logging.BootstrapLogger
	version   string
	hostname  string
	clock     func() time.Time
}

// New creates an Orchestrator wired to the real runner, log store and
// email notifier described by cfg.
func New(cfg *config.RunConfiguration, logger *logging.Logger) *Orchestrator {
	hostname, _ := os.Hostname()

	emailConfig := notify.EmailConfig{
		Enabled:        cfg.EmailEnabled,
		DeliveryMethod: cfg.EmailDeliveryMethod,
		Recipient:      cfg.EmailRecipient,
		From:           cfg.EmailFrom,
		AttachLog:      cfg.AttachLog,
		Relay: notify.RelayConfig{
			URL:        cfg.RelayURL,
			Token:      cfg.RelayToken,
			HMACSecret: cfg.RelayHMACSecret,
			Timeout:    cfg.RelayTimeout,
			MaxRetries: cfg.RelayMaxRetries,
			RetryDelay: cfg.RelayRetryDelay,
		},
	}

	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		store:    logstore.New(cfg.LogDir, logger),
		run:      runner.New(cfg, logger),
		notifier: notify.NewEmailNotifier(emailConfig, logger),
		hostname: hostname,
		clock:    time.Now,
	}
}

// SetVersion sets the tool version reported in metrics.
func (o *Orchestrator) SetVersion(version string) {
	o.version = version
}

// SetBootstrap hands over the pre-configuration message buffer. It is
// flushed into the run log as soon as the log is open.
func (o *Orchestrator) SetBootstrap(b *logging.BootstrapLogger) {
	o.bootstrap = b
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock()
	}
	return time.Now()
}

// runPass carries the mutable state threaded through the run phases.
type runPass struct {
	startTime time.Time
	endTime   time.Time

	record *logstore.LogRecord

	rcloneExit int
	output     string
	runErr     error

	outcome *classify.Outcome

	internalErrors []string
	notifyFailed   bool

	exitCode types.ExitCode
}

func (p *runPass) addInternalError(format string, args ...interface{}) {
	p.internalErrors = append(p.internalErrors, fmt.Sprintf(format, args...))
}

// Run executes the whole pipeline and returns the process exit code.
func (o *Orchestrator) Run(ctx context.Context) types.ExitCode {
	pass := &runPass{startTime: o.now()}

	for state := stateLogging; state != stateDone; {
		o.logger.Debug("Entering %s phase", state)
		switch state {
		case stateLogging:
			state = o.enterLogging(pass)
		case stateRunning:
			state = o.enterRunning(ctx, pass)
		case stateClassifying:
			state = o.enterClassifying(pass)
		case stateCleanup:
			state = o.enterCleanup(ctx, pass)
		case statePruning:
			state = o.enterPruning(pass)
		case stateReporting:
			state = o.enterReporting(ctx, pass)
		}
	}

	o.exportMetrics(pass)

	o.logger.Debug("Run finished with exit code %d (%s)", pass.exitCode.Int(), pass.exitCode)
	return pass.exitCode
}

// enterLogging opens the run log and attaches it as the logger mirror.
// Without a log file there is no audit trail, so a failure here aborts
// the run; the reporting phase still fires with a synthetic outcome.
func (o *Orchestrator) enterLogging(pass *runPass) runState {
	record, err := o.store.CreateLog(o.cfg.Mode)
	if err != nil {
		o.logger.Error("Failed to create run log: %v", err)
		pass.addInternalError("failed to create run log: %v", err)
		pass.exitCode = types.ExitIOError
		return stateReporting
	}
	pass.record = record
	o.logger.MirrorTo(record)
	if o.bootstrap != nil {
		o.bootstrap.Flush(o.logger)
	}

	o.logger.Info("Run log: %s", record.Path)
	o.logger.Info("Starting rclonebb %s", o.cfg.Mode)
	if o.cfg.DryRun {
		o.logger.Info("Dry run enabled, no files will be modified")
	}
	return stateRunning
}

func (o *Orchestrator) enterRunning(ctx context.Context, pass *runPass) runState {
	o.logger.Step("Running %s", o.commandLine())

	exitCode, output, err := o.run.Run(ctx, o.cfg.Mode, pass.record)
	pass.rcloneExit = exitCode
	pass.output = output
	if err != nil {
		pass.runErr = err
		o.logger.Error("rclone could not be executed: %v", err)
	}
	return stateClassifying
}

// enterClassifying derives the run outcome. A spawn failure produces a
// synthetic Failure outcome so the downstream phases have something to
// report.
func (o *Orchestrator) enterClassifying(pass *runPass) runState {
	if pass.runErr != nil {
		pass.outcome = &classify.Outcome{
			Status:   types.StatusFailure,
			Mode:     o.cfg.Mode,
			ExitCode: pass.rcloneExit,
			Log:      pass.record,
		}
		pass.addInternalError("execution error: %v", pass.runErr)
		return stateCleanup
	}

	pass.outcome = classify.Classify(o.cfg.Mode, pass.rcloneExit, pass.output)
	pass.outcome.Log = pass.record

	switch pass.outcome.Status {
	case types.StatusSuccess:
		o.logger.Info("Run completed successfully")
	case types.StatusPartialFailure:
		o.logger.Warning("Run completed with %d error/notice line(s) in output", len(pass.outcome.ErrorLines))
	case types.StatusFailure:
		o.logger.Error("rclone exited with code %d", pass.rcloneExit)
	}
	return stateCleanup
}

// enterCleanup fires the remote cleanup hook, only after a fully
// successful sync. A cleanup failure never changes the run status, it
// is carried as a warning into the notification body.
func (o *Orchestrator) enterCleanup(ctx context.Context, pass *runPass) runState {
	switch {
	case o.cfg.CleanupPath == "":
		return statePruning
	case o.cfg.Mode != types.ModeSync:
		o.logger.Skip("Cleanup only runs after sync")
		return statePruning
	case o.cfg.DryRun:
		o.logger.Skip("Cleanup skipped in dry run mode")
		return statePruning
	case pass.outcome.Status != types.StatusSuccess:
		o.logger.Skip("Cleanup skipped, run did not succeed")
		return statePruning
	}

	o.logger.Step("Running cleanup of %s", o.cfg.CleanupPath)
	output, err := o.run.Cleanup(ctx)
	if err != nil {
		warning := err.Error()
		if trimmed := strings.TrimSpace(output); trimmed != "" {
			warning = fmt.Sprintf("%v: %s", err, trimmed)
		}
		pass.outcome.CleanupWarning = warning
		o.logger.Warning("Cleanup failed: %s", warning)
	} else {
		o.logger.Info("Cleanup completed")
	}
	return statePruning
}

// enterPruning detaches and closes the run log, prunes old logs and
// compresses the current one. Failures here are internal errors
// surfaced in the notification, never fatal.
func (o *Orchestrator) enterPruning(pass *runPass) runState {
	o.logger.MirrorTo(nil)
	if err := pass.record.Close(); err != nil {
		pass.addInternalError("failed to close run log: %v", err)
	}

	removed := o.store.Prune(o.cfg.MaxLogFiles, pass.record)
	if removed > 0 {
		o.logger.Info("Pruned %d old log file(s)", removed)
	}

	if o.cfg.CompressLog {
		if err := o.store.Compress(pass.record); err != nil {
			pass.addInternalError("failed to compress log: %v", err)
			o.logger.Warning("Failed to compress log: %v", err)
		} else {
			o.logger.Info("Log compressed to %s", pass.record.Path)
		}
	}
	return stateReporting
}

// enterReporting delivers the summary notification, records delivery
// failures in the mail failure log, then seals the retained log with
// age. Encryption runs after the send so the attachment stays readable.
func (o *Orchestrator) enterReporting(ctx context.Context, pass *runPass) runState {
	pass.endTime = o.now()
	report := o.buildReport(pass)

	if o.notifier != nil && o.notifier.IsEnabled() {
		result, err := o.notifier.Send(ctx, report)
		if err != nil {
			pass.notifyFailed = true
			o.logger.Error("Notification delivery failed: %v", err)
			if appendErr := o.store.AppendMailFailure(o.cfg.Mode, err); appendErr != nil {
				o.logger.Warning("Failed to record mail failure: %v", appendErr)
			}
		} else {
			o.logger.Info("Notification sent via %s in %s", result.Method, result.Duration.Round(time.Millisecond))
		}
	} else {
		o.logger.Debug("Notifications disabled, skipping summary email")
	}

	if o.cfg.EncryptLog && pass.record != nil {
		if err := o.store.Encrypt(pass.record, o.cfg.AgeRecipients); err != nil {
			o.logger.Warning("Failed to encrypt log: %v", err)
		} else {
			o.logger.Info("Log encrypted to %s", pass.record.Path)
		}
	}

	pass.exitCode = o.resolveExitCode(pass)
	return stateDone
}

func (o *Orchestrator) buildReport(pass *runPass) *notify.RunReport {
	report := &notify.RunReport{
		Mode:           o.cfg.Mode,
		Status:         types.StatusFailure,
		CommandLine:    o.commandLine(),
		StartTime:      pass.startTime,
		EndTime:        pass.endTime,
		InternalErrors: pass.internalErrors,
		Hostname:       o.hostname,
	}
	if pass.outcome != nil {
		report.Status = pass.outcome.Status
		report.Summary = pass.outcome.Summary
		report.ErrorLines = pass.outcome.ErrorLines
		report.CleanupWarning = pass.outcome.CleanupWarning
	}
	if pass.record != nil {
		report.LogPath = pass.record.Path
	}
	// The report's exit code is the final process exit code, resolved
	// here without the notification outcome which is still pending.
	savedNotify := pass.notifyFailed
	pass.notifyFailed = false
	report.ExitCode = o.resolveExitCode(pass).Int()
	pass.notifyFailed = savedNotify
	return report
}

// resolveExitCode picks the terminal exit code. The most severe
// pipeline error wins; a notification failure surfaces only when
// everything earlier succeeded.
func (o *Orchestrator) resolveExitCode(pass *runPass) types.ExitCode {
	if pass.exitCode == types.ExitIOError {
		return types.ExitIOError
	}
	if pass.runErr != nil {
		return types.ExitExecutionError
	}
	if pass.outcome != nil {
		switch pass.outcome.Status {
		case types.StatusFailure:
			return types.ExitToolFailure
		case types.StatusPartialFailure:
			return types.ExitPartialFailure
		}
	}
	if pass.notifyFailed {
		return types.ExitNotificationError
	}
	return types.ExitSuccess
}

func (o *Orchestrator) commandLine() string {
	return o.cfg.RclonePath + " " + strings.Join(o.run.BuildArgs(o.cfg.Mode), " ")
}

func (o *Orchestrator) exportMetrics(pass *runPass) {
	if o.cfg.MetricsPath == "" {
		return
	}

	m := &metrics.RunMetrics{
		Hostname:  o.hostname,
		Mode:      o.cfg.Mode,
		Version:   o.version,
		StartTime: pass.startTime,
		EndTime:   pass.endTime,
		Duration:  pass.endTime.Sub(pass.startTime),
		ExitCode:  pass.exitCode.Int(),
		Status:    types.StatusFailure,
	}
	if pass.outcome != nil {
		m.Status = pass.outcome.Status
		m.NewFiles = pass.outcome.Summary.NewFiles
		m.ReplacedFiles = pass.outcome.Summary.ReplacedFiles
		m.DeletedFiles = pass.outcome.Summary.DeletedFiles
		m.Differences = pass.outcome.Summary.Differences
		m.ErrorLines = len(pass.outcome.ErrorLines)
	}
	if pass.record != nil {
		m.LogSizeBytes = pass.record.Size
	}

	exporter := metrics.NewPrometheusExporter(o.cfg.MetricsPath, o.logger)
	if err := exporter.Export(m); err != nil {
		o.logger.Warning("Failed to export Prometheus metrics: %v", err)
	}
}
