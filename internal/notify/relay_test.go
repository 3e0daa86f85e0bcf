package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cek/rclonebb/internal/types"
)

func relayNotifier(url string) *EmailNotifier {
	return newTestNotifier(EmailConfig{
		Enabled:        true,
		DeliveryMethod: DeliveryRelay,
		Recipient:      "ops@example.com",
		Relay: RelayConfig{
			URL:        url,
			Token:      "test-token",
			HMACSecret: "test-secret",
			Timeout:    5,
			MaxRetries: 2,
			RetryDelay: 0,
		},
	})
}

func TestRelayDeliverySignsPayload(t *testing.T) {
	var gotAuth, gotSignature string
	var gotPayload relayPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSignature = r.Header.Get("X-Signature")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotPayload); err != nil {
			t.Errorf("payload is not valid JSON: %v", err)
		}

		mac := hmac.New(sha256.New, []byte("test-secret"))
		mac.Write(body)
		if want := hex.EncodeToString(mac.Sum(nil)); gotSignature != want {
			t.Errorf("X-Signature = %q, want %q", gotSignature, want)
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	notifier := relayNotifier(server.URL)
	report := sampleReport(types.ModeSync)
	report.Status = types.StatusPartialFailure
	report.ExitCode = 1

	result, err := notifier.Send(context.Background(), report)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !result.Success || result.Method != DeliveryRelay {
		t.Errorf("unexpected result: %+v", result)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPayload.To != "ops@example.com" {
		t.Errorf("payload.To = %q", gotPayload.To)
	}
	if gotPayload.Mode != "sync" || gotPayload.Status != "partial failure" || gotPayload.ExitCode != 1 {
		t.Errorf("unexpected payload: %+v", gotPayload)
	}
	if gotPayload.Timestamp == 0 {
		t.Error("payload timestamp not set")
	}
}

func TestRelayRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := relayNotifier(server.URL)
	if _, err := notifier.Send(context.Background(), sampleReport(types.ModeSync)); err != nil {
		t.Fatalf("Send() should succeed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestRelayDoesNotRetryAuthFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	notifier := relayNotifier(server.URL)
	_, err := notifier.Send(context.Background(), sampleReport(types.ModeSync))
	if err == nil {
		t.Fatal("expected authentication error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("auth failures must not retry, server called %d times", got)
	}
}

func TestRelayExhaustsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := relayNotifier(server.URL)
	_, err := notifier.Send(context.Background(), sampleReport(types.ModeSync))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server called %d times, want 3 (1 + 2 retries)", got)
	}
}

func TestRelayRequiresURL(t *testing.T) {
	notifier := newTestNotifier(EmailConfig{
		Enabled:        true,
		DeliveryMethod: DeliveryRelay,
		Recipient:      "ops@example.com",
	})

	if _, err := notifier.Send(context.Background(), sampleReport(types.ModeSync)); err == nil {
		t.Fatal("expected error when relay URL is unset")
	}
}
