package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims mirrors the payload the web client already carries: the user id
// under "id", plus the registered claims (jti, exp).
type Claims struct {
	UserID string `json:"id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrRevokedToken = errors.New("revoked token")
)

func IssueToken(secret []byte, claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.UserID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// RevocationList records access tokens that were logged out before expiry.
type RevocationList interface {
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Verifier is the identity provider seen by the rest of the service: it
// turns a bearer token into claims or an error.
type Verifier struct {
	secret  []byte
	revoked RevocationList
}

func NewVerifier(secret string, revoked RevocationList) *Verifier {
	return &Verifier{secret: []byte(secret), revoked: revoked}
}

func (v *Verifier) Verify(ctx context.Context, token string) (Claims, error) {
	claims, err := ParseToken(v.secret, token)
	if err != nil {
		return Claims{}, err
	}
	if v.revoked == nil || claims.ID == "" {
		return claims, nil
	}
	revoked, err := v.revoked.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Claims{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Claims{}, ErrRevokedToken
	}
	return claims, nil
}

// Revoke blacklists the token's jti until it would have expired anyway.
// Tokens without a jti cannot be revoked and are ignored.
func (v *Verifier) Revoke(ctx context.Context, claims Claims) error {
	if v.revoked == nil || claims.ID == "" {
		return nil
	}
	expiresAt := time.Now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return v.revoked.RevokeAccessToken(ctx, claims.ID, expiresAt)
}
