package agentloop

import (
	"context"
	"sort"
	"sync"

	"switchboard/internal/config"
	"switchboard/pkg/logging"
)

// Handler executes one local tool call. The context carries the tool
// handler timeout and is cancelled when the client disconnects.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool is one locally registered tool an agent exposes.
type Tool struct {
	Name        string
	Description string
	Agent       string
	Handler     Handler
}

// Registry maps tool names to their local handlers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds the registry from the configured agents. A nil
// agent list enables every built-in agent; an explicit list enables
// only the agents it names.
func NewRegistry(agents []config.AgentConfig) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	builtin := builtinAgents()

	if agents == nil {
		for _, tools := range builtin {
			for _, t := range tools {
				r.Register(t)
			}
		}
		return r
	}

	for _, agent := range agents {
		if !agent.Enabled {
			continue
		}
		tools, ok := builtin[agent.Name]
		if !ok {
			logging.Warn("AgentLoop", "No built-in agent named %q, skipping", agent.Name)
			continue
		}
		for _, t := range tools {
			if len(agent.Tools) > 0 && !agentDeclaresTool(agent, t.Name) {
				continue
			}
			r.Register(t)
		}
	}
	return r
}

func agentDeclaresTool(agent config.AgentConfig, name string) bool {
	for _, t := range agent.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
