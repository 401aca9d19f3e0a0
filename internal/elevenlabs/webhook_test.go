package elevenlabs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

func signBody(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return fmt.Sprintf("t=%d,v0=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignatureValid(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"type":"post_call_transcription"}`)
	header := signBody("wh-secret", now.Unix(), body)
	if err := VerifySignature(header, body, "wh-secret", now); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerifySignatureExpired(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	body := []byte(`{}`)
	old := now.Add(-MaxSignatureAge - time.Minute)
	header := signBody("wh-secret", old.Unix(), body)
	if err := VerifySignature(header, body, "wh-secret", now); err == nil {
		t.Fatal("expired signature accepted")
	}
}

func TestVerifySignatureTamperedBody(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	header := signBody("wh-secret", now.Unix(), []byte(`{"a":1}`))
	if err := VerifySignature(header, []byte(`{"a":2}`), "wh-secret", now); err == nil {
		t.Fatal("tampered body accepted")
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	body := []byte(`{}`)
	header := signBody("other-secret", now.Unix(), body)
	if err := VerifySignature(header, body, "wh-secret", now); err == nil {
		t.Fatal("signature from wrong secret accepted")
	}
}

func TestVerifySignatureMalformedHeader(t *testing.T) {
	now := time.Now()
	for _, header := range []string{
		"",
		"v0=abc",
		"t=12345",
		"t=notanumber,v0=abc",
	} {
		if err := VerifySignature(header, []byte(`{}`), "wh-secret", now); err == nil {
			t.Errorf("header %q accepted", header)
		}
	}
}
