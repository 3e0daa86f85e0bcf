package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cek/rclonebb/internal/types"
)

func TestNew(t *testing.T) {
	logger := New(types.LogLevelInfo, true)

	if logger.level != types.LogLevelInfo {
		t.Errorf("Expected level %v, got %v", types.LogLevelInfo, logger.level)
	}

	if !logger.useColor {
		t.Error("Expected useColor to be true")
	}

	if logger.output == nil {
		t.Error("Expected output to be set")
	}
}

func TestSetLevel(t *testing.T) {
	logger := New(types.LogLevelInfo, false)

	logger.SetLevel(types.LogLevelDebug)

	if logger.GetLevel() != types.LogLevelDebug {
		t.Errorf("Expected level %v, got %v", types.LogLevelDebug, logger.GetLevel())
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelWarning, false)
	logger.SetOutput(&buf)

	// These should not appear (below warning level)
	logger.Debug("debug message")
	logger.Info("info message")

	// These should appear
	logger.Warning("warning message")
	logger.Error("error message")
	logger.Critical("critical message")

	output := buf.String()

	if strings.Contains(output, "debug message") {
		t.Error("Debug message should not appear when level is WARNING")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should not appear when level is WARNING")
	}

	if !strings.Contains(output, "warning message") {
		t.Error("Warning message should appear")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should appear")
	}
	if !strings.Contains(output, "critical message") {
		t.Error("Critical message should appear")
	}
}

func TestLogFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&buf)

	logger.Info("test message")

	output := buf.String()

	if !strings.Contains(output, "INFO") {
		t.Error("Output should contain log level INFO")
	}
	if !strings.Contains(output, "test message") {
		t.Error("Output should contain the message")
	}
	// Check for timestamp (format: YYYY-MM-DD HH:MM:SS)
	if !strings.Contains(output, "[") || !strings.Contains(output, "]") {
		t.Error("Output should contain timestamp in brackets")
	}
}

func TestStepAndSkipLabels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&buf)

	logger.Step("running rclone")
	logger.Skip("cleanup disabled")

	output := buf.String()

	if !strings.Contains(output, "STEP") || !strings.Contains(output, "running rclone") {
		t.Error("Output should contain the STEP line")
	}
	if !strings.Contains(output, "SKIP") || !strings.Contains(output, "cleanup disabled") {
		t.Error("Output should contain the SKIP line")
	}
}

func TestMirrorWritesPlainCopy(t *testing.T) {
	var console, mirror bytes.Buffer
	logger := New(types.LogLevelInfo, true)
	logger.SetOutput(&console)
	logger.MirrorTo(&mirror)

	logger.Warning("remote unreachable")

	if !strings.Contains(console.String(), "\033[") {
		t.Error("Console output should contain ANSI colors")
	}
	mirrored := mirror.String()
	if !strings.Contains(mirrored, "remote unreachable") {
		t.Error("Mirror should contain the message")
	}
	if strings.Contains(mirrored, "\033[") {
		t.Error("Mirror output must not contain ANSI colors")
	}
}

func TestMirrorCanBeDetached(t *testing.T) {
	var mirror bytes.Buffer
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&bytes.Buffer{})
	logger.MirrorTo(&mirror)
	logger.Info("first")
	logger.MirrorTo(nil)
	logger.Info("second")

	if !strings.Contains(mirror.String(), "first") {
		t.Error("Mirror should contain the line logged while attached")
	}
	if strings.Contains(mirror.String(), "second") {
		t.Error("Mirror should not receive lines after detach")
	}
}

func TestWarningErrorCounters(t *testing.T) {
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&bytes.Buffer{})

	if logger.HasWarnings() || logger.HasErrors() {
		t.Error("Fresh logger should have no warnings or errors")
	}

	logger.Warning("w")
	if !logger.HasWarnings() {
		t.Error("Expected HasWarnings after a warning")
	}

	logger.Error("e")
	if !logger.HasErrors() {
		t.Error("Expected HasErrors after an error")
	}
}

func TestLogWithFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&buf)

	logger.Info("Number: %d, String: %s", 42, "test")

	if !strings.Contains(buf.String(), "Number: 42, String: test") {
		t.Error("Output should contain the formatted message")
	}
}

func TestFatalUsesExitFunc(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&buf)

	exitCode := -1
	logger.SetExitFunc(func(code int) { exitCode = code })

	logger.Fatal(types.ExitConfigError, "bad flag")

	if exitCode != types.ExitConfigError.Int() {
		t.Errorf("Expected exit code %d, got %d", types.ExitConfigError.Int(), exitCode)
	}
	if !strings.Contains(buf.String(), "bad flag") {
		t.Error("Fatal should log the message before exiting")
	}
}

func TestDefaultLogger(t *testing.T) {
	original := GetDefaultLogger()
	defer SetDefaultLogger(original)

	var buf bytes.Buffer
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&buf)
	SetDefaultLogger(logger)

	Info("via default")

	if !strings.Contains(buf.String(), "via default") {
		t.Error("Package-level Info should use the default logger")
	}
}
