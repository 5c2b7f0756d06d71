package httpapi

import (
    "context"
    "crypto/hmac"
    "crypto/sha256"
    "errors"
    "fmt"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
)

func TestVerifySignatureAcceptsMatchingHMAC(t *testing.T) {
    body := []byte(`{"text":"hello"}`)
    secret := "topsecret"

    mac := hmacHex(t, secret, body)
    if !verifySignature(secret, body, mac) {
        t.Fatal("expected matching signature to verify")
    }
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
    body := []byte(`{"text":"hello"}`)
    mac := hmacHex(t, "right-secret", body)
    if verifySignature("wrong-secret", body, mac) {
        t.Fatal("expected mismatched secret to fail verification")
    }
}

func TestVerifySignatureRejectsEmptySignature(t *testing.T) {
    if verifySignature("secret", []byte("body"), "") {
        t.Fatal("expected empty signature to fail verification")
    }
}

func TestHandleMessageRejectsMissingFields(t *testing.T) {
    s := New(Config{Addr: ":0"}, nil)

    req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"text":""}`))
    rec := httptest.NewRecorder()

    s.handleMessage(rec, req)

    if rec.Code != http.StatusBadRequest {
        t.Fatalf("expected 400 for missing fields, got %d", rec.Code)
    }
}

func TestHandleMessageRejectsMalformedJSON(t *testing.T) {
    s := New(Config{Addr: ":0"}, nil)

    req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`not json`))
    rec := httptest.NewRecorder()

    s.handleMessage(rec, req)

    if rec.Code != http.StatusBadRequest {
        t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
    }
}

func TestHandleMessageRejectsBadSignatureWhenConfigured(t *testing.T) {
    s := New(Config{Addr: ":0", HMACSecret: "shared-secret"}, nil)

    body := `{"group_chat_id":"g1","text":"your code is 123456"}`
    req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
    req.Header.Set("X-Signature", "not-the-right-signature")
    rec := httptest.NewRecorder()

    s.handleMessage(rec, req)

    if rec.Code != http.StatusUnauthorized {
        t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
    }
}

func TestHandleLivenessReportsFailedCheck(t *testing.T) {
    s := New(Config{Addr: ":0"}, nil)
    s.RegisterLivenessCheck("db", CheckFunc(func(ctx context.Context) error {
        return errors.New("connection refused")
    }))

    req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
    rec := httptest.NewRecorder()

    s.handleLiveness(rec, req)

    if rec.Code != http.StatusServiceUnavailable {
        t.Fatalf("expected 503 when a liveness check fails, got %d", rec.Code)
    }
}

func TestHandleReadinessOKWithNoChecksRegistered(t *testing.T) {
    s := New(Config{Addr: ":0"}, nil)

    req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
    rec := httptest.NewRecorder()

    s.handleReadiness(rec, req)

    if rec.Code != http.StatusOK {
        t.Fatalf("expected 200 with no registered checks, got %d", rec.Code)
    }
}

func hmacHex(t *testing.T, secret string, body []byte) string {
    t.Helper()
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write(body)
    return fmt.Sprintf("%x", mac.Sum(nil))
}
