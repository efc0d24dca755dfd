package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/pkg/logging"
)

func (s *Server) mcpRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.listMCPServers)
	r.Post("/", s.createMCPServer)
	r.Get("/{name}", s.getMCPServer)
	r.Put("/{name}", s.updateMCPServer)
	r.Delete("/{name}", s.deleteMCPServer)
	r.Get("/{name}/tools", s.mcpServerTools)
	r.Post("/{name}/tools/refresh", s.refreshMCPServerTools)
	return r
}

func (s *Server) listMCPServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Manager.ListServers())
}

func (s *Server) createMCPServer(w http.ResponseWriter, r *http.Request) {
	var def config.MCPServer
	if err := decodeJSON(r, &def); err != nil {
		api.WriteError(w, err)
		return
	}
	err := s.opts.Store.Update(func(cfg *config.Config) error {
		if _, exists := cfg.GetMCPServer(def.Name); exists {
			return api.NewError(api.ErrInvalidRequest, "MCP server %q already exists", def.Name).WithStatus(http.StatusConflict)
		}
		cfg.MCPServers = append(cfg.MCPServers, def)
		return nil
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}

	// The definition is persisted; a failed connect leaves the entry in
	// error state rather than rolling the config back.
	if err := s.opts.Manager.AddServer(r.Context(), def); err != nil {
		logging.Warn("Server", "MCP server %s saved but not started: %v", def.Name, err)
		s.opts.Store.SetNeedsRestart(true)
		writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true, "needsRestart": true})
		return
	}
	logging.Info("Server", "MCP server %s created", def.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true})
}

func (s *Server) getMCPServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, ok := s.opts.Manager.GetServer(name)
	if !ok {
		api.WriteError(w, api.NewError(api.ErrMCPUpstreamUnavailable, "unknown MCP server %q", name).WithStatus(http.StatusNotFound))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) updateMCPServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var def config.MCPServer
	if err := decodeJSON(r, &def); err != nil {
		api.WriteError(w, err)
		return
	}
	def.Name = name
	err := s.opts.Store.Update(func(cfg *config.Config) error {
		existing, ok := cfg.GetMCPServer(name)
		if !ok {
			return api.NewError(api.ErrMCPUpstreamUnavailable, "unknown MCP server %q", name).WithStatus(http.StatusNotFound)
		}
		*existing = def
		return nil
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}

	if err := s.opts.Manager.UpdateServer(r.Context(), def); err != nil {
		logging.Warn("Server", "MCP server %s saved but not reconnected: %v", name, err)
		s.opts.Store.SetNeedsRestart(true)
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "needsRestart": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) deleteMCPServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.opts.Store.Update(func(cfg *config.Config) error {
		for i := range cfg.MCPServers {
			if cfg.MCPServers[i].Name == name {
				cfg.MCPServers = append(cfg.MCPServers[:i], cfg.MCPServers[i+1:]...)
				return nil
			}
		}
		return api.NewError(api.ErrMCPUpstreamUnavailable, "unknown MCP server %q", name).WithStatus(http.StatusNotFound)
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}
	if err := s.opts.Manager.RemoveServer(name); err != nil {
		logging.Debug("Server", "MCP server %s was not running: %v", name, err)
	}
	logging.Info("Server", "MCP server %s deleted", name)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) mcpServerTools(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tools, err := s.opts.Manager.GetTools(name)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

func (s *Server) refreshMCPServerTools(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tools, err := s.opts.Manager.RefreshTools(r.Context(), name)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

func (s *Server) handleAggregatorSSE(w http.ResponseWriter, r *http.Request) {
	s.opts.Aggregator.ServeSSE(w, r, chi.URLParam(r, "group"))
}

func (s *Server) handleAggregatorMessage(w http.ResponseWriter, r *http.Request) {
	s.opts.Aggregator.HandleMessage(w, r, chi.URLParam(r, "group"))
}
