package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Identity is the authenticated caller attached to the request context
// by the middleware.
type Identity struct {
	ID       int64
	Username string
}

type contextKey struct{}

var identityKey contextKey

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// ContextWithIdentity is exported for handler tests that bypass the
// middleware.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Middleware verifies the bearer access token on every request. Each
// request is verified independently; nothing is cached.
func Middleware(manager *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				unauthorized(w, "missing token")
				return
			}

			claims, err := manager.Verify(parts[1], UseAccess)
			if err != nil {
				slog.Warn("rejected bearer token", "path", r.URL.Path)
				unauthorized(w, "invalid or expired token")
				return
			}

			identity := Identity{ID: claims.UserID(), Username: claims.Username}
			ctx := ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
