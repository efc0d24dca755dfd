package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"switchboard/internal/aggregator"
	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/internal/history"
	"switchboard/internal/mcpserver"
	"switchboard/internal/transformer"
	"switchboard/internal/usage"
	"switchboard/pkg/logging"
)

const readHeaderTimeout = 10 * time.Second

// Options carries the components the HTTP surface exposes.
type Options struct {
	Store        *config.Store
	Dispatcher   api.Dispatcher
	Transformers *transformer.Registry
	Manager      *mcpserver.Manager
	Aggregator   *aggregator.Aggregator
	Usage        *usage.Cache
	History      *history.Log

	// Restart is invoked by POST /api/restart.
	Restart func(ctx context.Context) error
	Version string
}

// Server is the HTTP surface over the assembled components.
type Server struct {
	opts    Options
	started time.Time
}

// New assembles the HTTP surface. Nil optional components (history,
// usage) disable the corresponding routes gracefully.
func New(opts Options) *Server {
	return &Server{opts: opts, started: time.Now()}
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		s.auth,
	)

	r.Get("/health", s.handleHealth)

	r.Post("/v1/messages", s.handleMessages)
	r.Post("/v1/messages/count_tokens", s.handleCountTokens)

	r.Mount("/providers", s.providerRouter())
	r.Mount("/api", s.adminRouter())

	r.Get("/mcp/{group}", s.handleAggregatorSSE)
	r.Post("/mcp/{group}/messages", s.handleAggregatorMessage)

	return r
}

// ListenAndServe blocks until ctx is cancelled, then drains in-flight
// requests within the grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logging.Info("Server", "Listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server", "Shutdown did not drain cleanly: %v", err)
		return srv.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// writeJSON renders a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Server", "Failed to encode response: %v", err)
	}
}

// decodeJSON decodes a request body, rejecting unparseable payloads.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return api.WrapError(api.ErrInvalidRequest, err, "request body is not valid JSON: %v", err)
	}
	return nil
}
