package notify

import (
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cek/rclonebb/internal/logging"
	"github.com/cek/rclonebb/internal/types"
)

func testLogger() *logging.Logger {
	logger := logging.New(types.LogLevelNone, false)
	logger.SetOutput(io.Discard)
	return logger
}

func newTestNotifier(config EmailConfig) *EmailNotifier {
	return NewEmailNotifier(config, testLogger())
}

func TestIsEnabled(t *testing.T) {
	cases := []struct {
		name   string
		config EmailConfig
		want   bool
	}{
		{"enabled with recipient", EmailConfig{Enabled: true, Recipient: "ops@example.com"}, true},
		{"disabled", EmailConfig{Enabled: false, Recipient: "ops@example.com"}, false},
		{"no recipient", EmailConfig{Enabled: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := newTestNotifier(tc.config).IsEnabled(); got != tc.want {
				t.Errorf("IsEnabled() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSendRejectsInvalidRecipient(t *testing.T) {
	notifier := newTestNotifier(EmailConfig{Enabled: true, Recipient: "not-an-address"})

	result, err := notifier.Send(context.Background(), sampleReport(types.ModeSync))
	if err == nil {
		t.Fatal("expected error for invalid recipient")
	}
	if result.Success {
		t.Error("result.Success should be false")
	}
}

func TestBuildEmailMessageHeaders(t *testing.T) {
	notifier := newTestNotifier(EmailConfig{
		Enabled:   true,
		Recipient: "ops@example.com",
		From:      "backup@nas01",
	})

	message := notifier.buildEmailMessage("ops@example.com", "rclonebb sync summary", "body text", sampleReport(types.ModeSync))

	if !strings.Contains(message, "To: ops@example.com\n") {
		t.Error("missing To header")
	}
	if !strings.Contains(message, "From: backup@nas01\n") {
		t.Error("missing From header")
	}
	if !strings.Contains(message, "MIME-Version: 1.0\n") {
		t.Error("missing MIME-Version header")
	}

	// Subject must round-trip through the Base64 encoded-word.
	start := strings.Index(message, "Subject: =?UTF-8?B?")
	if start < 0 {
		t.Fatalf("missing encoded subject header:\n%s", message)
	}
	rest := message[start+len("Subject: =?UTF-8?B?"):]
	end := strings.Index(rest, "?=")
	decoded, err := base64.StdEncoding.DecodeString(rest[:end])
	if err != nil {
		t.Fatalf("subject is not valid base64: %v", err)
	}
	if string(decoded) != "rclonebb sync summary" {
		t.Errorf("decoded subject = %q", decoded)
	}

	if !strings.Contains(message, "body text") {
		t.Error("missing body")
	}
	if strings.Contains(message, "multipart/mixed") {
		t.Error("no attachment requested, message should be plain text")
	}
}

func TestBuildEmailMessageWithAttachment(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "rclonebb_20260831_143005_sync.log")
	logContent := strings.Repeat("2026/08/31 14:30:10 INFO  : a.jpg: Copied (new)\n", 20)
	if err := os.WriteFile(logPath, []byte(logContent), 0o600); err != nil {
		t.Fatal(err)
	}

	notifier := newTestNotifier(EmailConfig{Enabled: true, Recipient: "ops@example.com", AttachLog: true})
	report := sampleReport(types.ModeSync)
	report.LogPath = logPath

	message := notifier.buildEmailMessage("ops@example.com", "subject", "body text", report)

	if !strings.Contains(message, "Content-Type: multipart/mixed;") {
		t.Fatalf("expected multipart message:\n%s", message)
	}
	if !strings.Contains(message, `filename="rclonebb_20260831_143005_sync.log"`) {
		t.Error("missing attachment filename")
	}
	if !strings.Contains(message, `Content-Type: text/plain; charset=UTF-8; name="rclonebb_20260831_143005_sync.log"`) {
		t.Error("plain log should attach as text/plain")
	}

	// Base64 attachment lines must stay within 76 columns and decode
	// back to the file content.
	idx := strings.Index(message, "Content-Transfer-Encoding: base64\n\n")
	if idx < 0 {
		t.Fatal("missing base64 attachment section")
	}
	section := message[idx+len("Content-Transfer-Encoding: base64\n\n"):]
	section = section[:strings.Index(section, "\n\n--")]
	var encoded strings.Builder
	for _, line := range strings.Split(section, "\n") {
		if len(line) > 76 {
			t.Errorf("base64 line exceeds 76 columns: %d", len(line))
		}
		encoded.WriteString(line)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		t.Fatalf("attachment is not valid base64: %v", err)
	}
	if string(decoded) != logContent {
		t.Error("attachment does not round-trip to original log content")
	}
}

func TestBuildEmailMessageCompressedAttachmentType(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "rclonebb_20260831_143005_sync.log.gz")
	if err := os.WriteFile(logPath, []byte{0x1f, 0x8b, 0x08}, 0o600); err != nil {
		t.Fatal(err)
	}

	notifier := newTestNotifier(EmailConfig{Enabled: true, Recipient: "ops@example.com", AttachLog: true})
	report := sampleReport(types.ModeSync)
	report.LogPath = logPath

	message := notifier.buildEmailMessage("ops@example.com", "subject", "body", report)
	if !strings.Contains(message, `Content-Type: application/octet-stream; name="rclonebb_20260831_143005_sync.log.gz"`) {
		t.Errorf("compressed log should attach as octet-stream:\n%s", message)
	}
}

func TestBuildEmailMessageMissingLogFallsBack(t *testing.T) {
	notifier := newTestNotifier(EmailConfig{Enabled: true, Recipient: "ops@example.com", AttachLog: true})
	report := sampleReport(types.ModeSync)
	report.LogPath = "/nonexistent/run.log"

	message := notifier.buildEmailMessage("ops@example.com", "subject", "body text", report)
	if strings.Contains(message, "multipart/mixed") {
		t.Error("unreadable log should fall back to a plain message")
	}
	if !strings.Contains(message, "body text") {
		t.Error("fallback message lost the body")
	}
}

// writeSendmailStub installs a shell script in place of sendmail that
// records its stdin, and restores the real path afterwards.
func writeSendmailStub(t *testing.T, script string) (capturePath string) {
	t.Helper()
	dir := t.TempDir()
	capturePath = filepath.Join(dir, "message.txt")
	stubPath := filepath.Join(dir, "sendmail")
	body := "#!/bin/sh\ncat > " + capturePath + "\n" + script
	if err := os.WriteFile(stubPath, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	orig := sendmailBinaryPath
	sendmailBinaryPath = stubPath
	t.Cleanup(func() { sendmailBinaryPath = orig })
	return capturePath
}

func TestSendViaSendmailDeliversMessage(t *testing.T) {
	capturePath := writeSendmailStub(t, "exit 0")

	notifier := newTestNotifier(EmailConfig{
		Enabled:        true,
		DeliveryMethod: DeliverySendmail,
		Recipient:      "ops@example.com",
	})

	result, err := notifier.Send(context.Background(), sampleReport(types.ModeSync))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !result.Success || result.Method != DeliverySendmail {
		t.Errorf("unexpected result: %+v", result)
	}

	captured, err := os.ReadFile(capturePath)
	if err != nil {
		t.Fatalf("stub did not capture a message: %v", err)
	}
	if !strings.Contains(string(captured), "To: ops@example.com") {
		t.Errorf("captured message missing recipient:\n%s", captured)
	}
	if !strings.Contains(string(captured), "Command line:") {
		t.Errorf("captured message missing summary body:\n%s", captured)
	}
}

func TestSendViaSendmailReportsFailure(t *testing.T) {
	writeSendmailStub(t, "echo 'relay refused' >&2\nexit 75")

	notifier := newTestNotifier(EmailConfig{
		Enabled:        true,
		DeliveryMethod: DeliverySendmail,
		Recipient:      "ops@example.com",
	})

	result, err := notifier.Send(context.Background(), sampleReport(types.ModeSync))
	if err == nil {
		t.Fatal("expected error from failing sendmail")
	}
	if result.Success {
		t.Error("result.Success should be false")
	}
	if !strings.Contains(err.Error(), "relay refused") {
		t.Errorf("error should include stderr: %v", err)
	}
}

func TestSendMissingSendmailBinary(t *testing.T) {
	orig := sendmailBinaryPath
	sendmailBinaryPath = "/nonexistent/sendmail"
	t.Cleanup(func() { sendmailBinaryPath = orig })

	notifier := newTestNotifier(EmailConfig{
		Enabled:        true,
		DeliveryMethod: DeliverySendmail,
		Recipient:      "ops@example.com",
	})

	if _, err := notifier.Send(context.Background(), sampleReport(types.ModeSync)); err == nil {
		t.Fatal("expected error when sendmail binary is missing")
	}
}
