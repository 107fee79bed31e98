package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/desertthunder/crawlctl/internal/shared"
)

// TokenClaims are the fields the platform puts in its access tokens.
type TokenClaims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenInfo summarizes a locally held token. The signature is not verified; only the platform can do that.
type TokenInfo struct {
	Subject   string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token's expiry has passed at now. Tokens without an expiry never expire.
func (t TokenInfo) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// InspectToken decodes the claims of a JWT without verifying it.
func InspectToken(raw string) (*TokenInfo, error) {
	if raw == "" {
		return nil, shared.ErrNotAuthenticated
	}

	var claims TokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: malformed token: %v", shared.ErrInvalidInput, err)
	}

	info := &TokenInfo{Subject: claims.Subject, UserID: claims.UserID}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// TokenInfo inspects the credential currently held by the client.
func (c *Client) TokenInfo() (*TokenInfo, error) {
	return InspectToken(c.Token())
}
