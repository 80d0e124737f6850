package auth

import (
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{
		Namespace: "ns-abc",
		Wallet:    "wallet-addr",
		Admin:     true,
		JTI:       "jti-1",
		Exp:       time.Now().Add(time.Hour).Unix(),
	}

	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	parsed, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if parsed.Namespace != claims.Namespace || parsed.Wallet != claims.Wallet || !parsed.Admin {
		t.Errorf("claims did not survive round trip: %+v", parsed)
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := IssueToken([]byte("secret-a"), Claims{JTI: "j", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if _, err := ParseToken([]byte("secret-b"), token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenExpired(t *testing.T) {
	secret := []byte("secret")
	token, err := IssueToken(secret, Claims{JTI: "j", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if _, err := ParseToken(secret, token); err != ErrExpiredToken {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenGarbage(t *testing.T) {
	for _, raw := range []string{"", "one-part", "a.b.c", "!!.!!"} {
		if _, err := ParseToken([]byte("secret"), raw); err != ErrInvalidToken {
			t.Errorf("ParseToken(%q) = %v, want ErrInvalidToken", raw, err)
		}
	}
}
