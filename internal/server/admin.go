package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/pkg/logging"
)

// restartGrace bounds how long a restart may take before the handler
// reports failure.
const restartGrace = 30 * time.Second

func (s *Server) providerRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.listProviders)
	r.Post("/", s.createProvider)
	r.Put("/{name}", s.updateProvider)
	r.Delete("/{name}", s.deleteProvider)
	return r
}

func (s *Server) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Post("/providers/enabled", s.toggleProvider)
	r.Get("/config", s.getConfig)
	r.Post("/config", s.replaceConfig)
	r.Post("/restart", s.handleRestart)
	r.Get("/transformers", s.listTransformers)
	r.Get("/status", s.handleStatus)
	r.Get("/sessions/{id}/messages", s.sessionMessages)
	r.Mount("/mcp/servers", s.mcpRouter())
	return r
}

func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Store.Snapshot().Providers)
}

func (s *Server) createProvider(w http.ResponseWriter, r *http.Request) {
	var p config.Provider
	if err := decodeJSON(r, &p); err != nil {
		api.WriteError(w, err)
		return
	}
	err := s.opts.Store.Update(func(cfg *config.Config) error {
		if _, exists := cfg.GetProvider(p.Name); exists {
			return api.NewError(api.ErrInvalidRequest, "provider %q already exists", p.Name).WithStatus(http.StatusConflict)
		}
		cfg.Providers = append(cfg.Providers, p)
		return nil
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}
	logging.Info("Server", "Provider %s created", p.Name)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateProvider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var p config.Provider
	if err := decodeJSON(r, &p); err != nil {
		api.WriteError(w, err)
		return
	}
	p.Name = name
	err := s.opts.Store.Update(func(cfg *config.Config) error {
		existing, ok := cfg.GetProvider(name)
		if !ok {
			return api.NewError(api.ErrUnknownProvider, "provider %q is not configured", name)
		}
		*existing = p
		return nil
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProvider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.opts.Store.Update(func(cfg *config.Config) error {
		for i := range cfg.Providers {
			if cfg.Providers[i].Name == name {
				cfg.Providers = append(cfg.Providers[:i], cfg.Providers[i+1:]...)
				return nil
			}
		}
		return api.NewError(api.ErrUnknownProvider, "provider %q is not configured", name)
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}
	logging.Info("Server", "Provider %s deleted", name)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) toggleProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}
	err := s.opts.Store.Update(func(cfg *config.Config) error {
		p, ok := cfg.GetProvider(req.Name)
		if !ok {
			return api.NewError(api.ErrUnknownProvider, "provider %q is not configured", req.Name)
		}
		p.Enabled = req.Enabled
		return nil
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "name": req.Name, "enabled": req.Enabled})
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Store.Snapshot())
}

func (s *Server) replaceConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := decodeJSON(r, &cfg); err != nil {
		api.WriteError(w, err)
		return
	}
	if err := s.opts.Store.Replace(&cfg); err != nil {
		writeMutationError(w, err)
		return
	}
	s.opts.Store.SetNeedsRestart(true)
	logging.Info("Server", "Configuration replaced, restart pending")
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "needsRestart": true})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.opts.Restart == nil {
		api.WriteError(w, api.NewError(api.ErrInternal, "restart is not wired"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), restartGrace)
	defer cancel()
	if err := s.opts.Restart(ctx); err != nil {
		api.WriteError(w, api.WrapError(api.ErrInternal, err, "restart failed: %v", err))
		return
	}
	s.opts.Store.SetNeedsRestart(false)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) listTransformers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transformers": s.opts.Transformers.Names(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.opts.Store.Snapshot()
	status := map[string]interface{}{
		"ok":            true,
		"version":       s.opts.Version,
		"uptimeSeconds": time.Since(s.started).Seconds(),
		"needsRestart":  s.opts.Store.NeedsRestart(),
		"providers":     len(snapshot.Providers),
	}
	if s.opts.Manager != nil {
		status["mcpServers"] = s.opts.Manager.ListServers()
	}
	if s.opts.Aggregator != nil {
		status["sessions"] = s.opts.Aggregator.SessionCount()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) sessionMessages(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": []interface{}{}})
		return
	}
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": s.opts.History.Session(id),
	})
}

// writeMutationError maps store failures onto the wire taxonomy:
// validation problems are the caller's fault, persistence problems are
// ours.
func writeMutationError(w http.ResponseWriter, err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		api.WriteError(w, apiErr)
		return
	}
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		api.WriteError(w, api.WrapError(api.ErrInvalidRequest, err, "%v", err))
		return
	}
	api.WriteError(w, api.WrapError(api.ErrInternal, err, "%v", err))
}
