package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialsFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
	r.Header.Set("Authorization", "Bearer tok")
	r.Header.Set(APIKeyHeader, " key ")
	bearer, key := CredentialsFromRequest(r)
	assert.Equal(t, "tok", bearer)
	assert.Equal(t, "key", key)

	r = httptest.NewRequest(http.MethodGet, "/ws/u1?token=qtok", nil)
	bearer, _ = CredentialsFromRequest(r)
	assert.Equal(t, "qtok", bearer)

	r = httptest.NewRequest(http.MethodGet, "/api/v1/connections?token=qtok", nil)
	bearer, _ = CredentialsFromRequest(r)
	assert.Empty(t, bearer, "query tokens are only accepted on websocket paths")
}

func TestMiddleware(t *testing.T) {
	store := newMemoryStore()
	store.sessions["good"] = "u1"
	resolver := NewResolver(store, nil)

	var seen string
	handler := Middleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid session", "Bearer good", http.StatusNoContent},
		{"invalid", "Bearer bad", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			r := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusNoContent {
				assert.Equal(t, "u1", seen)
			} else {
				assert.Empty(t, seen)
				assert.Contains(t, w.Body.String(), "unauthorized")
			}
		})
	}
}

func TestMiddleware_PassesPreflight(t *testing.T) {
	handler := Middleware(NewResolver(newMemoryStore(), nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/connections", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
