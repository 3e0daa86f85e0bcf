// Package runner drives the external rclone binary: it builds the
// argument vector for the requested mode, spawns the subprocess, and
// streams its combined output into the run log while retaining it for
// classification.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cek/rclonebb/internal/config"
	"github.com/cek/rclonebb/internal/logging"
	"github.com/cek/rclonebb/internal/types"
)

// ExecutionError means the subprocess could not be spawned at all
// (missing binary, permission denied). It is the only fatal runner
// failure; a non-zero exit code is forwarded to the classifier instead.
type ExecutionError struct {
	Binary string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("cannot execute %s: %v", e.Binary, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Runner spawns rclone for one run. The command constructors are
// injectable for hermetic tests.
type Runner struct {
	config *config.RunConfiguration
	logger *logging.Logger

	newCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
	lookPath   func(string) (string, error)
}

// New creates a runner over the given configuration.
func New(cfg *config.RunConfiguration, logger *logging.Logger) *Runner {
	return &Runner{
		config:     cfg,
		logger:     logger,
		newCommand: exec.CommandContext,
		lookPath:   exec.LookPath,
	}
}

// flagRule contributes zero or more flags to the argument vector.
// Transfer-specific rules are restricted to sync; check and cryptcheck
// move no data, so concurrency, age filtering and dry-run do not apply.
type flagRule struct {
	syncOnly bool
	build    func(c *config.RunConfiguration) []string
}

var flagTable = []flagRule{
	{build: func(c *config.RunConfiguration) []string {
		if c.RcloneConfig == "" {
			return nil
		}
		return []string{"--config=" + c.RcloneConfig}
	}},
	{build: func(c *config.RunConfiguration) []string {
		if c.ExcludeFile == "" {
			return nil
		}
		return []string{"--exclude-from", c.ExcludeFile}
	}},
	{syncOnly: true, build: func(c *config.RunConfiguration) []string {
		return []string{"--transfers", strconv.Itoa(c.Transfers)}
	}},
	{syncOnly: true, build: func(c *config.RunConfiguration) []string {
		if c.MinAge == "" {
			return nil
		}
		return []string{"--min-age", c.MinAge}
	}},
	{syncOnly: true, build: func(c *config.RunConfiguration) []string {
		return []string{"--b2-hard-delete"}
	}},
	{syncOnly: true, build: func(c *config.RunConfiguration) []string {
		if !c.DryRun {
			return nil
		}
		return []string{"--dry-run"}
	}},
}

// BuildArgs builds the rclone argument vector for mode. Omitted
// optional fields contribute nothing; no flag is ever passed with an
// empty value.
func (r *Runner) BuildArgs(mode types.Mode) []string {
	args := []string{
		mode.String(),
		"--stats-file-name-length", "0",
		"--log-level", "INFO",
		"--fast-list",
		"--links",
	}

	for _, rule := range flagTable {
		if rule.syncOnly && mode != types.ModeSync {
			continue
		}
		args = append(args, rule.build(r.config)...)
	}

	return append(args, r.config.LocalDir, r.config.RemoteBucket)
}

// Run executes rclone in the given mode, streaming combined
// stdout/stderr into logSink as it arrives while retaining a copy for
// the classifier. A non-zero exit code is not an error here; only a
// spawn failure is.
//
// There is no timeout: a scheduled batch run blocks until rclone exits.
func (r *Runner) Run(ctx context.Context, mode types.Mode, logSink io.Writer) (int, string, error) {
	if _, err := r.lookPath(r.config.RclonePath); err != nil {
		return -1, "", &ExecutionError{Binary: r.config.RclonePath, Err: err}
	}

	args := r.BuildArgs(mode)
	r.logger.Step("Executing %s %s", r.config.RclonePath, strings.Join(args, " "))

	var captured bytes.Buffer
	sink := io.Writer(&captured)
	if logSink != nil {
		sink = io.MultiWriter(logSink, &captured)
	}

	cmd := r.newCommand(ctx, r.config.RclonePath, args...)
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Start(); err != nil {
		return -1, "", &ExecutionError{Binary: r.config.RclonePath, Err: err}
	}

	err := cmd.Wait()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Wait failed for a reason other than the process exiting
			// non-zero (e.g. an I/O error on the pipes).
			return -1, captured.String(), &ExecutionError{Binary: r.config.RclonePath, Err: err}
		}
	}

	return exitCode, captured.String(), nil
}

// Cleanup removes old remote object versions under the configured
// cleanup path. Callers decide when it fires; this layer only runs the
// subprocess and reports its output.
func (r *Runner) Cleanup(ctx context.Context) (string, error) {
	args := []string{"cleanup"}
	if r.config.RcloneConfig != "" {
		args = append(args, "--config="+r.config.RcloneConfig)
	}
	args = append(args, r.config.CleanupPath)

	r.logger.Step("Executing %s %s", r.config.RclonePath, strings.Join(args, " "))

	cmd := r.newCommand(ctx, r.config.RclonePath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("cleanup of %s failed: %w", r.config.CleanupPath, err)
	}
	return string(output), nil
}
