package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func signHS256(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	hdr := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(hdr + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s.%s.%s", hdr, payload, sig)
}

func TestVerifyDevMode(t *testing.T) {
	v := NewVerifier("", "")
	if v.Mode != "dev" {
		t.Fatalf("default mode: %s", v.Mode)
	}
	pr, err := v.Verify("Admin")
	if err != nil || pr.Role != "admin" {
		t.Fatalf("dev verify: %v %+v", err, pr)
	}
	if _, err := v.Verify(""); err == nil {
		t.Fatalf("empty dev token accepted")
	}
}

func TestVerifyHMAC(t *testing.T) {
	v := NewVerifier("hmac", "s3cret")
	tok := signHS256(t, "s3cret", map[string]any{"role": "Admin", "exp": time.Now().Add(time.Hour).Unix()})
	pr, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if pr.Role != "admin" {
		t.Fatalf("role: %s", pr.Role)
	}
}

func TestVerifyHMACBadSignature(t *testing.T) {
	v := NewVerifier("hmac", "right")
	tok := signHS256(t, "wrong", map[string]any{"role": "admin"})
	if _, err := v.Verify(tok); err == nil {
		t.Fatalf("accepted token signed with wrong secret")
	}
}

func TestVerifyHMACExpired(t *testing.T) {
	v := NewVerifier("hmac", "s3cret")
	tok := signHS256(t, "s3cret", map[string]any{"role": "admin", "exp": time.Now().Add(-time.Minute).Unix()})
	if _, err := v.Verify(tok); err == nil {
		t.Fatalf("accepted expired token")
	}
}

func TestVerifyHMACDefaultsRole(t *testing.T) {
	v := NewVerifier("hmac", "s3cret")
	tok := signHS256(t, "s3cret", map[string]any{"sub": "someone"})
	pr, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if pr.Role != "viewer" {
		t.Fatalf("missing role should default to viewer, got %s", pr.Role)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	v := NewVerifier("hmac", "s3cret")
	for _, tok := range []string{"", "a.b", "not a jwt", "x.y.z"} {
		if _, err := v.Verify(tok); err == nil {
			t.Fatalf("accepted %q", tok)
		}
	}
}
