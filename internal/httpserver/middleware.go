package httpserver

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"tradecore/internal/httputil"
)

// TokenParser verifies an access token and returns the user id it was
// issued for. Satisfied by the auth service.
type TokenParser interface {
	ParseToken(token string) (string, error)
}

type principalKey struct{}

// WithAuth authenticates requests via a bearer token and stores the user
// id in the request context for authed handlers.
func WithAuth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing bearer token"})
				return
			}
			userID, err := tokens.ParseToken(raw)
			if err != nil {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid token"})
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		token, ok = strings.CutPrefix(h, "bearer ")
	}
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// UserID returns the authenticated user id placed by WithAuth.
func UserID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(principalKey{}).(string)
	return id, ok && id != ""
}

// InternalAuth guards operator endpoints with a shared token, compared in
// constant time.
func InternalAuth(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("X-Internal-Token"))
			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid internal token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
