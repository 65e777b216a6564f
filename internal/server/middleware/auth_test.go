package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func authedMux(apiKey string) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Auth(apiKey)(next)
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		path   string
		header func(*http.Request)
		want   int
	}{
		{"empty key disables auth", "", "/api/snapshot", nil, http.StatusOK},
		{"health is always open", "secret", "/api/health", nil, http.StatusOK},
		{"missing credentials", "secret", "/api/snapshot", nil, http.StatusUnauthorized},
		{"wrong key", "secret", "/api/snapshot", func(r *http.Request) {
			r.Header.Set("X-API-Key", "nope")
		}, http.StatusUnauthorized},
		{"api key header", "secret", "/api/snapshot", func(r *http.Request) {
			r.Header.Set("X-API-Key", "secret")
		}, http.StatusOK},
		{"bearer token", "secret", "/api/snapshot", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer secret")
		}, http.StatusOK},
		{"malformed authorization", "secret", "/api/snapshot", func(r *http.Request) {
			r.Header.Set("Authorization", "Basic secret")
		}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != nil {
				tt.header(req)
			}
			rr := httptest.NewRecorder()
			authedMux(tt.key).ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}
