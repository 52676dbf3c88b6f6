package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	a, err := NewLocalJWTAuth("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewLocalJWTAuth: %v", err)
	}

	token, err := a.GenerateToken("op-1", "operator", "admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	op, err := a.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if op.ID != "op-1" || op.Name != "operator" || op.Role != "admin" {
		t.Errorf("operator = %+v", op)
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	a, _ := NewLocalJWTAuth("secret-a", time.Hour)
	b, _ := NewLocalJWTAuth("secret-b", time.Hour)

	token, err := a.GenerateToken("op-1", "operator", "admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := b.VerifyToken(token); err == nil {
		t.Error("token signed with a different secret verified")
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	a, _ := NewLocalJWTAuth("test-secret", time.Hour)
	a.TokenExpiry = -time.Minute

	token, err := a.GenerateToken("op-1", "operator", "admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := a.VerifyToken(token); err == nil {
		t.Error("expired token verified")
	}
}

func TestExtractToken(t *testing.T) {
	if tok, err := ExtractToken("Bearer abc123"); err != nil || tok != "abc123" {
		t.Errorf("ExtractToken = %q, %v", tok, err)
	}
	for _, bad := range []string{"", "abc123", "Basic abc123", "Bearer "} {
		if _, err := ExtractToken(bad); err == nil {
			t.Errorf("ExtractToken(%q) succeeded", bad)
		}
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	ok, err := VerifyPassword(hash, "correct horse battery staple")
	if err != nil || !ok {
		t.Errorf("VerifyPassword(correct) = %v, %v", ok, err)
	}

	ok, err = VerifyPassword(hash, "wrong password")
	if err != nil || ok {
		t.Errorf("VerifyPassword(wrong) = %v, %v", ok, err)
	}

	if _, err := VerifyPassword("not-a-hash", "x"); err == nil {
		t.Error("VerifyPassword accepted a malformed hash")
	}
}
