package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{
		Sub:  "user-1",
		Name: "Robin",
		Role: "moderator",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	}

	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	parsed, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.Role != claims.Role || parsed.JTI != claims.JTI {
		t.Fatalf("claims round-trip mismatch: got %+v", parsed)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	claims := Claims{Sub: "user-1", Name: "Robin", JTI: "jti-1", Exp: time.Now().Add(time.Hour).Unix()}
	token, err := IssueToken([]byte("secret-a"), claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	if _, err := ParseToken([]byte("secret-b"), token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{Sub: "user-1", Name: "Robin", Role: "member", JTI: "jti-1", Exp: time.Now().Add(time.Hour).Unix()}
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	// Rewrite the role inside the encoded payload while keeping the
	// original signature.
	payload, signature, ok := strings.Cut(token, ".")
	if !ok {
		t.Fatalf("malformed token %q", token)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	tampered := strings.Replace(string(decoded), `"role":"member"`, `"role":"admin"`, 1)
	if tampered == string(decoded) {
		t.Fatal("payload rewrite did not change the claims")
	}
	forged := base64.RawURLEncoding.EncodeToString([]byte(tampered)) + "." + signature

	if _, err := ParseToken(secret, forged); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{Sub: "user-1", Name: "Robin", JTI: "jti-1", Exp: time.Now().Add(-time.Minute).Unix()}
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	if _, err := ParseToken(secret, token); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	if _, err := ParseToken([]byte("s"), "not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
