package agentloop

import (
	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/internal/stream"
)

// Loop is the process-wide agent loop: the tool registry plus the
// continuation bound. Per-stream state lives in the handler returned by
// Intercept.
type Loop struct {
	registry  *Registry
	maxRounds int
}

// New creates the loop. A non-positive maxRounds uses the default.
func New(registry *Registry, maxRounds int) *Loop {
	if maxRounds <= 0 {
		maxRounds = config.DefaultMaxToolRounds
	}
	return &Loop{registry: registry, maxRounds: maxRounds}
}

// Registry exposes the loop's tool registry.
func (l *Loop) Registry() *Registry {
	return l.registry
}

// Intercept returns the stream stage for one client stream, or false
// when the request cannot involve local tools: continuation requests,
// non-streaming requests, and requests whose tools are all remote pass
// through untouched. The stage holds the client stream open past the
// upstream's end until tool handlers and continuations have drained.
func (l *Loop) Intercept(req *api.MessagesRequest, dispatch api.Dispatcher) (stream.Stage, bool) {
	if req.InternalContinue() || !req.Stream() {
		return nil, false
	}
	if !l.anyBoundTool(req.Tools()) {
		return nil, false
	}
	s := newState(l, req, dispatch)
	return s.stage, true
}

// anyBoundTool reports whether any requested tool has a local handler.
func (l *Loop) anyBoundTool(tools []interface{}) bool {
	for _, raw := range tools {
		tool, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := tool["name"].(string)
		if _, bound := l.registry.Get(name); bound {
			return true
		}
	}
	return false
}
