package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const operatorContextKey contextKey = "operator"

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// tokenMatches compares in constant time. An empty configured token never matches.
func tokenMatches(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// IdentifyOperator marks requests carrying the operator token. It never rejects a request.
func IdentifyOperator(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenMatches(bearerToken(r), token) {
				r = r.WithContext(SetOperatorInContext(r.Context()))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOperator is middleware that requires the operator token.
// With no token configured every operator route is closed.
func RequireOperator(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsOperator(r.Context()) && !tokenMatches(bearerToken(r), token) {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(SetOperatorInContext(r.Context())))
		})
	}
}

// IsOperator reports whether the request was authenticated as an operator.
func IsOperator(ctx context.Context) bool {
	ok, _ := ctx.Value(operatorContextKey).(bool)
	return ok
}

// SetOperatorInContext marks the context as operator-authenticated.
// This is primarily for testing - use RequireOperator middleware in production.
func SetOperatorInContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, operatorContextKey, true)
}
