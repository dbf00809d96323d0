package httpserver

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTokens struct {
	userID string
	err    error
}

func (s stubTokens) ParseToken(string) (string, error) { return s.userID, s.err }

func authedEcho(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := UserID(r)
		require.True(t, ok)
		_, _ = w.Write([]byte(id))
	})
}

func TestWithAuthAcceptsBearerToken(t *testing.T) {
	h := WithAuth(stubTokens{userID: "user-1"})(authedEcho(t))

	for _, header := range []string{"Bearer tok-1", "bearer tok-1"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-1", rec.Body.String())
	}
}

func TestWithAuthRejectsMissingOrBadTokens(t *testing.T) {
	cases := []struct {
		name   string
		header string
		tokens TokenParser
	}{
		{"no header", "", stubTokens{userID: "user-1"}},
		{"wrong scheme", "Basic abc", stubTokens{userID: "user-1"}},
		{"empty token", "Bearer ", stubTokens{userID: "user-1"}},
		{"parse failure", "Bearer expired", stubTokens{err: errors.New("expired")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			h := WithAuth(tc.tokens)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
			req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, called)
		})
	}
}

func TestUserIDAbsentWithoutAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := UserID(req)
	assert.False(t, ok)
}

func TestInternalAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	h := InternalAuth("secret")(next)
	req := httptest.NewRequest(http.MethodGet, "/v1/internal/metrics", nil)
	req.Header.Set("X-Internal-Token", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/internal/metrics", nil)
	req.Header.Set("X-Internal-Token", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// An empty configured token can never authorize anything.
	h = InternalAuth("")(next)
	req = httptest.NewRequest(http.MethodGet, "/v1/internal/metrics", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
