package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type memoryRevocations map[string]time.Time

func (m memoryRevocations) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	m[jti] = exp
	return nil
}

func (m memoryRevocations) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	_, ok := m[jti]
	return ok, nil
}

func testClaims(exp time.Time) Claims {
	return Claims{
		UserID: "user-1",
		Role:   "Member",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, testClaims(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "Member" || claims.ID != "jti-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, testClaims(time.Now().Add(-time.Minute)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), testClaims(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifierHonoursRevocation(t *testing.T) {
	ctx := context.Background()
	revocations := memoryRevocations{}
	verifier := NewVerifier("secret", revocations)

	issued, err := IssueToken([]byte("secret"), testClaims(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := verifier.Verify(ctx, issued)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := verifier.Revoke(ctx, claims); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := verifier.Verify(ctx, issued); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken after revoke, got %v", err)
	}
}
