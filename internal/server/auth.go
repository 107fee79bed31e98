package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/services"
	"github.com/desertthunder/crawlctl/internal/shared"
)

const (
	DefaultTokenTTL = 30 * time.Minute
	tokenIssuer     = "crawlctl-dev"
)

// TokenIssuer signs and verifies HS256 access tokens carrying the username as subject and the user id.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue creates a login response for u.
func (i *TokenIssuer) Issue(u models.User) (models.LoginResponse, error) {
	now := i.now()
	claims := services.TokenClaims{
		UserID: u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return models.LoginResponse{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return models.LoginResponse{AccessToken: signed, TokenType: "bearer", ExpiresIn: int(i.ttl.Seconds())}, nil
}

// Verify checks the signature and expiry of raw and returns its claims.
func (i *TokenIssuer) Verify(raw string) (*services.TokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.now),
	)
	var claims services.TokenClaims
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return i.secret, nil }); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrNotAuthenticated, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token carries no user id", shared.ErrNotAuthenticated)
	}
	return &claims, nil
}

type userKey struct{}

// UserFrom returns the authenticated user stored on ctx by [Authenticator].
func UserFrom(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey{}).(models.User)
	return u, ok
}

// Authenticator rejects requests without a valid bearer token for an existing account.
func Authenticator(issuer *TokenIssuer, platform *Platform) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeDetail(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			claims, err := issuer.Verify(raw)
			if err != nil {
				writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
				return
			}
			user, err := platform.User(claims.UserID)
			if err != nil || !user.IsActive {
				writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
		})
	}
}

// RequireAdmin rejects authenticated users without the admin flag. It must run after [Authenticator].
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := UserFrom(r.Context()); !ok || !u.IsAdmin {
			writeDetail(w, http.StatusForbidden, "Not enough permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}
