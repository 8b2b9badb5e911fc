package auth

import (
	"testing"
	"time"
)

func TestJWT_SignVerify(t *testing.T) {
	j := NewJWT("test-secret", time.Hour)

	token, err := j.Sign("user-123")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	userID, err := j.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if userID != "user-123" {
		t.Errorf("Verify() = %q, want %q", userID, "user-123")
	}
}

func TestJWT_VerifyWrongSecret(t *testing.T) {
	token, err := NewJWT("secret-a", time.Hour).Sign("user-123")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if _, err := NewJWT("secret-b", time.Hour).Verify(token); err == nil {
		t.Error("Verify() with wrong secret should fail")
	}
}

func TestJWT_VerifyExpired(t *testing.T) {
	token, err := NewJWT("test-secret", -time.Minute).Sign("user-123")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if _, err := NewJWT("test-secret", -time.Minute).Verify(token); err == nil {
		t.Error("Verify() of expired token should fail")
	}
}

func TestJWT_VerifyGarbage(t *testing.T) {
	if _, err := NewJWT("test-secret", time.Hour).Verify("not-a-token"); err == nil {
		t.Error("Verify() of malformed token should fail")
	}
}

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if !CheckPassword("correct horse battery staple", hash) {
		t.Error("CheckPassword() = false for correct password")
	}

	if CheckPassword("wrong password", hash) {
		t.Error("CheckPassword() = true for wrong password")
	}
}
