// Package auth provides the bearer-token middleware for the HTTP API.
// Tokens are HS256-signed by the identity provider and validated with the
// shared project secret; validated claims travel on the request context.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/langconnect/mcpd/pkg/logger"
)

// Validator checks a bearer token and returns its claims.
type Validator interface {
	Validate(token string) (jwt.MapClaims, error)
}

// ClaimsContextKey is the key under which validated claims are stored in the
// request context.
type ClaimsContextKey struct{}

const bearerPrefix = "Bearer "

// Middleware authenticates every request with a bearer token. Requests
// without a valid token are rejected with 401 before reaching a handler.
func Middleware(validator Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				http.Error(w, "Missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := validator.Validate(strings.TrimPrefix(header, bearerPrefix))
			if err != nil {
				logger.Debugf("Rejected bearer token: %v", err)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves the validated claims from the request context.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey{}).(jwt.MapClaims)
	return claims, ok
}

// UserIDFromContext returns the authenticated user's id (the token subject),
// or "" when the request was not authenticated.
func UserIDFromContext(ctx context.Context) string {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
