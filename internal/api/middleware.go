// Package api implements the mythnote REST API using chi.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// UserHeader carries the acting user's id.
const UserHeader = "X-User-ID"

type ctxKey struct{}

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserMiddleware resolves the acting user from the X-User-ID header, falling
// back to defaultUser when the header is absent. A request without any
// usable id is rejected.
func UserMiddleware(defaultUser int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := defaultUser
			if raw := r.Header.Get(UserHeader); raw != "" {
				parsed, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || parsed <= 0 {
					writeJSON(w, http.StatusBadRequest, errorBody("invalid "+UserHeader))
					return
				}
				id = parsed
			}
			if id <= 0 {
				writeJSON(w, http.StatusBadRequest, errorBody(UserHeader+" is required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		})
	}
}

// UserID returns the acting user set by UserMiddleware, or 0.
func UserID(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKey{}).(int64)
	return id
}
