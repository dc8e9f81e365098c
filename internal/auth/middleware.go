package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ContextKey type for context keys
type ContextKey string

// OwnerContextKey is the context key under which the authenticated
// owner identifier is stored.
const OwnerContextKey ContextKey = "owner"

// OwnerFromContext extracts the authenticated owner from the request
// context. The empty string means the request was not authenticated.
func OwnerFromContext(ctx context.Context) string {
	if owner, ok := ctx.Value(OwnerContextKey).(string); ok {
		return owner
	}
	return ""
}

// Middleware validates the bearer token and stores the owner in the
// request context. Requests without a valid token get 401.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := extractToken(r)
			if tokenStr == "" {
				unauthorized(w)
				return
			}

			claims, err := ParseToken(secret, tokenStr)
			if err != nil || claims.Owner == "" {
				slog.WarnContext(r.Context(), "Rejected invalid token",
					"path", r.URL.Path, "error", err)
				unauthorized(w)
				return
			}
			if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), OwnerContextKey, claims.Owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken reads the token from the Authorization header, falling
// back to the token query parameter for download-style requests.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
