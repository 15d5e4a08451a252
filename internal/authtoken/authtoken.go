// Package authtoken issues and verifies the self-signed bearer tokens
// used on every protected HTTP call: HMAC validation, context-key claim
// storage, and a Bearer-prefix middleware, using a configured HMAC
// secret since this system issues its own tokens rather than trusting a
// third-party IdP.
package authtoken

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload carried by issued tokens.
type Claims struct {
	SubscriberID uuid.UUID
	Handle       int64
	Superuser    bool
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Handle    int64 `json:"handle"`
	Superuser bool  `json:"superuser"`
}

// Issuer signs and validates HS256 bearer tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// New constructs an Issuer. secret must be non-empty; ttl is the access
// token lifetime (30 minutes by default).
func New(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for the given subscriber.
func (i *Issuer) Issue(subscriberID uuid.UUID, handle int64, superuser bool) (string, time.Time, error) {
	now := time.Now()
	expiry := now.Add(i.ttl)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subscriberID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
		Handle:    handle,
		Superuser: superuser,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.Internal, err, "failed to sign token")
	}
	return signed, expiry, nil
}

// Verify parses and validates a token string, returning its claims.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.Unauthenticated, err, "token has expired")
		}
		return nil, apperr.Wrap(apperr.Unauthenticated, err, "invalid token")
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, apperr.New(apperr.Unauthenticated, "invalid token claims")
	}
	subscriberID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthenticated, err, "invalid subject claim")
	}

	return &Claims{
		SubscriberID: subscriberID,
		Handle:       claims.Handle,
		Superuser:    claims.Superuser,
		IssuedAt:     claims.IssuedAt.Time,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

type contextKey string

const claimsContextKey contextKey = "authtoken_claims"

// Middleware extracts and validates the Bearer token, storing its claims
// in the request context: a Bearer-prefix split followed by a 401 on
// absence or invalidity, backed by the HMAC Issuer above.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
			return
		}
		claims, err := i.Verify(parts[1])
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext extracts claims stored by Middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}
