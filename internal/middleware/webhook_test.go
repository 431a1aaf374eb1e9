package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const sigHeader = "X-Webhook-Signature"

func signedHandler(secret string) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	return WebhookHMAC(secret, sigHeader)(ok)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookHMACValid(t *testing.T) {
	body := `{"sent_to":"jane@upeo.co.ke","status":"bounced"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/email", strings.NewReader(body))
	req.Header.Set(sigHeader, sign("topsecret", []byte(body)))
	rec := httptest.NewRecorder()

	signedHandler("topsecret").ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
}

func TestWebhookHMACInvalidSignature(t *testing.T) {
	body := `{"sent_to":"jane@upeo.co.ke"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/email", strings.NewReader(body))
	req.Header.Set(sigHeader, sign("wrong-secret", []byte(body)))
	rec := httptest.NewRecorder()

	signedHandler("topsecret").ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestWebhookHMACMissingSignature(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/email", strings.NewReader("{}"))
	rec := httptest.NewRecorder()

	signedHandler("topsecret").ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhookHMACUnconfiguredSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/email", strings.NewReader("{}"))
	req.Header.Set(sigHeader, sign("", []byte("{}")))
	rec := httptest.NewRecorder()

	signedHandler("").ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
