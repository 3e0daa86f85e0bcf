package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cek/rclonebb/internal/logging"
)

// Delivery methods accepted by EMAIL_DELIVERY_METHOD.
const (
	DeliverySendmail = "sendmail"
	DeliveryRelay    = "relay"
)

// sendmailBinaryPath is a variable so tests can point it at a stub.
var sendmailBinaryPath = "/usr/sbin/sendmail"

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// EmailConfig holds the email channel configuration.
type EmailConfig struct {
	Enabled        bool
	DeliveryMethod string
	Recipient      string
	From           string
	AttachLog      bool
	Relay          RelayConfig
}

// EmailNotifier sends the run summary by email.
type EmailNotifier struct {
	config EmailConfig
	logger *logging.Logger
}

// NewEmailNotifier creates an email notifier with the given configuration.
func NewEmailNotifier(config EmailConfig, logger *logging.Logger) *EmailNotifier {
	if config.From == "" {
		config.From = "rclonebb@localhost"
	}
	return &EmailNotifier{config: config, logger: logger}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) IsEnabled() bool {
	return e.config.Enabled && strings.TrimSpace(e.config.Recipient) != ""
}

// Send builds the summary message and delivers it via the configured method.
func (e *EmailNotifier) Send(ctx context.Context, report *RunReport) (*NotificationResult, error) {
	start := time.Now()
	result := &NotificationResult{Method: e.config.DeliveryMethod}

	recipient := strings.TrimSpace(e.config.Recipient)
	if !emailRegex.MatchString(recipient) {
		err := fmt.Errorf("invalid recipient address %q", recipient)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, err
	}

	subject := BuildSubject(report)
	body := BuildBody(report)

	var err error
	switch e.config.DeliveryMethod {
	case DeliveryRelay:
		err = e.sendViaRelay(ctx, recipient, subject, body, report)
	case DeliverySendmail, "":
		result.Method = DeliverySendmail
		err = e.sendViaSendmail(ctx, recipient, subject, body, report)
	default:
		err = fmt.Errorf("unknown delivery method %q", e.config.DeliveryMethod)
	}

	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.Success = true
	return result, nil
}

func (e *EmailNotifier) sendViaSendmail(ctx context.Context, recipient, subject, body string, report *RunReport) error {
	sendmailPath := sendmailBinaryPath
	if _, err := exec.LookPath(sendmailPath); err != nil {
		return fmt.Errorf("sendmail not found at %s, install a local MTA or set EMAIL_DELIVERY_METHOD=relay", sendmailPath)
	}

	message := e.buildEmailMessage(recipient, subject, body, report)

	cmd := exec.CommandContext(ctx, sendmailPath, "-t", "-oi")
	cmd.Stdin = strings.NewReader(message)

	var stderrBuf strings.Builder
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil {
		stderr := strings.TrimSpace(stderrBuf.String())
		if stderr != "" {
			return fmt.Errorf("sendmail failed: %w (%s)", err, stderr)
		}
		return fmt.Errorf("sendmail failed: %w", err)
	}

	e.logger.Debug("Sendmail accepted message for %s", recipient)
	return nil
}

// buildEmailMessage assembles the raw RFC 2822 message handed to sendmail.
// The subject is Base64 encoded so UTF-8 status markers survive transport.
func (e *EmailNotifier) buildEmailMessage(recipient, subject, body string, report *RunReport) string {
	encodedSubject := base64.StdEncoding.EncodeToString([]byte(subject))

	var email strings.Builder
	email.WriteString(fmt.Sprintf("To: %s\n", recipient))
	email.WriteString(fmt.Sprintf("From: %s\n", e.config.From))
	email.WriteString(fmt.Sprintf("Subject: =?UTF-8?B?%s?=\n", encodedSubject))
	email.WriteString("MIME-Version: 1.0\n")

	attachLog := e.config.AttachLog && report != nil && strings.TrimSpace(report.LogPath) != ""

	if attachLog {
		logPath := strings.TrimSpace(report.LogPath)
		content, err := os.ReadFile(logPath)
		if err != nil {
			e.logger.Warning("Failed to read log file for email attachment (%s): %v", logPath, err)
			attachLog = false
		} else {
			boundary := "rclonebb_mixed_42"

			email.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\n", boundary))
			email.WriteString("\n")

			email.WriteString(fmt.Sprintf("--%s\n", boundary))
			email.WriteString("Content-Type: text/plain; charset=UTF-8\n")
			email.WriteString("Content-Transfer-Encoding: 8bit\n")
			email.WriteString("\n")
			email.WriteString(body)
			email.WriteString("\n\n")

			filename := filepath.Base(logPath)
			email.WriteString(fmt.Sprintf("--%s\n", boundary))
			email.WriteString(fmt.Sprintf("Content-Type: %s; name=\"%s\"\n", attachmentContentType(filename), filename))
			email.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\n", filename))
			email.WriteString("Content-Transfer-Encoding: base64\n")
			email.WriteString("\n")

			encoded := base64.StdEncoding.EncodeToString(content)
			const maxLineLength = 76
			for i := 0; i < len(encoded); i += maxLineLength {
				end := i + maxLineLength
				if end > len(encoded) {
					end = len(encoded)
				}
				email.WriteString(encoded[i:end])
				email.WriteString("\n")
			}
			email.WriteString("\n")
			email.WriteString(fmt.Sprintf("--%s--\n", boundary))
		}
	}

	if !attachLog {
		email.WriteString("Content-Type: text/plain; charset=UTF-8\n")
		email.WriteString("Content-Transfer-Encoding: 8bit\n")
		email.WriteString("\n")
		email.WriteString(body)
		email.WriteString("\n")
	}

	return email.String()
}

func attachmentContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".gz", ".age":
		return "application/octet-stream"
	default:
		return "text/plain; charset=UTF-8"
	}
}
