package server

import (
	"crypto/subtle"
	"net/http"

	"switchboard/internal/api"
)

// auth enforces the shared bearer token on every route except /health.
// An empty APIKEY disables authentication entirely.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.opts.Store.Snapshot().APIKey
		if key == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		expected := "Bearer " + key
		got := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			api.WriteError(w, api.NewError(api.ErrUnauthorized, "missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
