package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"

	"github.com/cek/rclonebb/internal/config"
	"github.com/cek/rclonebb/internal/logging"
	"github.com/cek/rclonebb/internal/types"
)

func testLogger() *logging.Logger {
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() *config.RunConfiguration {
	cfg := config.NewRunConfiguration(nil)
	cfg.Mode = types.ModeSync
	cfg.LocalDir = "/data/photos"
	cfg.RemoteBucket = "b2:bucket/photos"
	cfg.Transfers = 8
	cfg.MinAge = "15m"
	cfg.ExcludeFile = "/etc/rclonebb/excludes.txt"
	cfg.RcloneConfig = "/root/.config/rclone/rclone.conf"
	return cfg
}

// fakeRunner returns a runner whose subprocess is replaced by a shell
// script, so tests never touch a real rclone binary.
func fakeRunner(cfg *config.RunConfiguration, script string) *Runner {
	r := New(cfg, testLogger())
	r.lookPath = func(string) (string, error) { return "/usr/bin/rclone", nil }
	r.newCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", script)
	}
	return r
}

func TestBuildArgsSync(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	r := New(cfg, testLogger())

	args := r.BuildArgs(types.ModeSync)
	joined := strings.Join(args, " ")

	if args[0] != "sync" {
		t.Errorf("First argument = %q; want sync", args[0])
	}
	for _, want := range []string{
		"--stats-file-name-length 0",
		"--log-level INFO",
		"--fast-list",
		"--links",
		"--config=/root/.config/rclone/rclone.conf",
		"--exclude-from /etc/rclonebb/excludes.txt",
		"--transfers 8",
		"--min-age 15m",
		"--b2-hard-delete",
		"--dry-run",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Argument vector missing %q: %s", want, joined)
		}
	}
	if args[len(args)-2] != "/data/photos" || args[len(args)-1] != "b2:bucket/photos" {
		t.Errorf("Source and destination must be the final arguments: %v", args)
	}
}

func TestBuildArgsCheckOmitsTransferFlags(t *testing.T) {
	for _, mode := range []types.Mode{types.ModeCheck, types.ModeCryptCheck} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.Mode = mode
			cfg.DryRun = true // set on purpose, must still be omitted
			r := New(cfg, testLogger())

			joined := strings.Join(r.BuildArgs(mode), " ")

			for _, banned := range []string{"--transfers", "--min-age", "--dry-run", "--b2-hard-delete"} {
				if strings.Contains(joined, banned) {
					t.Errorf("%s argument vector must not contain %s: %s", mode, banned, joined)
				}
			}
			if !strings.Contains(joined, "--exclude-from") {
				t.Errorf("%s should keep the exclusion file: %s", mode, joined)
			}
		})
	}
}

func TestBuildArgsOmitsEmptyOptionals(t *testing.T) {
	cfg := testConfig()
	cfg.ExcludeFile = ""
	cfg.MinAge = ""
	cfg.RcloneConfig = ""
	r := New(cfg, testLogger())

	joined := strings.Join(r.BuildArgs(types.ModeSync), " ")

	for _, banned := range []string{"--exclude-from", "--min-age", "--config"} {
		if strings.Contains(joined, banned) {
			t.Errorf("Unset optional produced flag %s: %s", banned, joined)
		}
	}
}

func TestRunStreamsOutputAndCaptures(t *testing.T) {
	r := fakeRunner(testConfig(), `printf 'line one\nline two\n'`)

	var sink bytes.Buffer
	exitCode, output, err := r.Run(context.Background(), types.ModeSync, &sink)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if exitCode != 0 {
		t.Errorf("Exit code = %d; want 0", exitCode)
	}
	if output != "line one\nline two\n" {
		t.Errorf("Captured output = %q", output)
	}
	if sink.String() != output {
		t.Error("Log sink should receive the same bytes as the captured output")
	}
}

func TestRunForwardsNonZeroExit(t *testing.T) {
	r := fakeRunner(testConfig(), `printf 'boom\n'; exit 7`)

	exitCode, output, err := r.Run(context.Background(), types.ModeSync, io.Discard)
	if err != nil {
		t.Fatalf("Non-zero exit must not be an error at this layer: %v", err)
	}
	if exitCode != 7 {
		t.Errorf("Exit code = %d; want 7", exitCode)
	}
	if !strings.Contains(output, "boom") {
		t.Errorf("Output = %q; want it to contain boom", output)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	r := New(testConfig(), testLogger())
	r.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	_, _, err := r.Run(context.Background(), types.ModeSync, io.Discard)
	if err == nil {
		t.Fatal("Run should fail when the binary cannot be found")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Errorf("Error type = %T; want *ExecutionError", err)
	}
}

func TestCleanupReportsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.CleanupPath = "b2:bucket"
	r := fakeRunner(cfg, `printf 'no such bucket\n'; exit 1`)

	output, err := r.Cleanup(context.Background())
	if err == nil {
		t.Fatal("Cleanup should surface the subprocess failure")
	}
	if !strings.Contains(output, "no such bucket") {
		t.Errorf("Cleanup output = %q; want the subprocess output", output)
	}
}

func TestCleanupSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.CleanupPath = "b2:bucket"
	r := fakeRunner(cfg, `printf 'done\n'`)

	output, err := r.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if !strings.Contains(output, "done") {
		t.Errorf("Cleanup output = %q", output)
	}
}
