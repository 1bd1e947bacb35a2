package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	internalKey contextKey = "internal"
)

// InternalSecretHeader carries the shared secret of trusted internal callers
const InternalSecretHeader = "X-Internal-Secret"

// TokenValidator resolves a bearer token to a user ID
type TokenValidator interface {
	ValidateJWT(token string) (string, error)
}

// AuthMiddleware creates a middleware for JWT authentication
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := authenticate(w, r, validator)
			if !ok {
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalOnly admits only requests that carry the shared internal secret
func InternalOnly(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasInternalSecret(r, secret) {
				respondError(w, "Forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), internalKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TrustedOrAuthenticated admits internal callers by shared secret and everyone else
// by bearer token
func TrustedOrAuthenticated(secret string, validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasInternalSecret(r, secret) {
				ctx := context.WithValue(r.Context(), internalKey, true)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			userID, ok := authenticate(w, r, validator)
			if !ok {
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate validates the bearer token and writes a 401 on failure
func authenticate(w http.ResponseWriter, r *http.Request, validator TokenValidator) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		respondError(w, "Authorization header required", http.StatusUnauthorized)
		return "", false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		respondError(w, "Invalid authorization header format", http.StatusUnauthorized)
		return "", false
	}

	userID, err := validator.ValidateJWT(parts[1])
	if err != nil {
		respondError(w, "Invalid token", http.StatusUnauthorized)
		return "", false
	}

	return userID, true
}

func hasInternalSecret(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	got := r.Header.Get(InternalSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(userIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

// IsInternal reports whether the request was admitted by shared secret
func IsInternal(ctx context.Context) bool {
	internal, _ := ctx.Value(internalKey).(bool)
	return internal
}

// WithUserID returns a context carrying an authenticated user ID
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
