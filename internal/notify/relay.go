package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RelayConfig holds configuration for the HTTP mail relay worker.
type RelayConfig struct {
	URL        string
	Token      string
	HMACSecret string
	Timeout    int // seconds
	MaxRetries int
	RetryDelay int // seconds
}

// relayPayload is the JSON body posted to the relay worker.
type relayPayload struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Mode      string `json:"mode"`
	Status    string `json:"status"`
	ExitCode  int    `json:"exit_code"`
	Hostname  string `json:"hostname,omitempty"`
	Timestamp int64  `json:"t"`
}

// relayResponse is the JSON response returned by the relay worker.
type relayResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (e *EmailNotifier) sendViaRelay(ctx context.Context, recipient, subject, body string, report *RunReport) error {
	config := e.config.Relay
	if config.URL == "" {
		return fmt.Errorf("relay delivery requested but RELAY_URL is not set")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30
	}

	payload := relayPayload{
		To:        recipient,
		Subject:   subject,
		Body:      body,
		Mode:      report.Mode.String(),
		Status:    report.Status.String(),
		ExitCode:  report.ExitCode,
		Hostname:  report.Hostname,
		Timestamp: time.Now().Unix(),
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal relay payload: %w", err)
	}

	signature := hmacSignature(payloadBytes, config.HMACSecret)

	client := &http.Client{Timeout: time.Duration(config.Timeout) * time.Second}

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			e.logger.Debug("Relay retry attempt %d/%d after %ds delay", attempt, config.MaxRetries, config.RetryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(config.RetryDelay) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.URL, bytes.NewReader(payloadBytes))
		if err != nil {
			lastErr = fmt.Errorf("failed to create relay request: %w", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", config.Token))
		req.Header.Set("X-Signature", signature)
		req.Header.Set("User-Agent", "rclonebb")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("relay request failed: %w", err)
			e.logger.Warning("Mail relay request failed (attempt %d/%d): %v", attempt+1, config.MaxRetries+1, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read relay response: %w", err)
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK:
			e.logger.Debug("Mail relay accepted message for %s", recipient)
			return nil

		case http.StatusBadRequest:
			var apiResp relayResponse
			_ = json.Unmarshal(respBody, &apiResp)
			return fmt.Errorf("relay rejected request (HTTP 400): %s", apiResp.Error)

		case http.StatusUnauthorized:
			return fmt.Errorf("relay authentication failed (HTTP 401): invalid token")

		case http.StatusForbidden:
			return fmt.Errorf("relay forbidden (HTTP 403): HMAC signature validation failed")

		case http.StatusTooManyRequests:
			var apiResp relayResponse
			_ = json.Unmarshal(respBody, &apiResp)
			detail := strings.TrimSpace(apiResp.Message)
			if detail == "" {
				detail = strings.TrimSpace(apiResp.Error)
			}
			if attempt == config.MaxRetries {
				return fmt.Errorf("relay rate limit exceeded: %s", detail)
			}
			lastErr = fmt.Errorf("relay rate limit exceeded")
			continue

		default:
			e.logger.Warning("Mail relay returned HTTP %d, will retry", resp.StatusCode)
			lastErr = fmt.Errorf("relay error (HTTP %d): %s", resp.StatusCode, string(respBody))
			continue
		}
	}

	return fmt.Errorf("relay failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}

func hmacSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
