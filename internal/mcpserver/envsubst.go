package mcpserver

import (
	"os"
	"strings"

	"switchboard/internal/config"
)

// Per-session bindings recognized inside MCP server configs. Both names
// resolve to the session's streaming id.
const (
	streamingIDVar    = "STREAMING_ID"
	mcpStreamingIDVar = "MCP_STREAMING_ID"
)

// substitute expands ${NAME} patterns against the process environment
// plus the per-session streaming id bindings. Unknown names expand to
// the empty string, matching os.Expand semantics.
func substitute(s, sessionID string) string {
	return os.Expand(s, func(name string) string {
		switch name {
		case streamingIDVar, mcpStreamingIDVar:
			return sessionID
		default:
			return os.Getenv(name)
		}
	})
}

// substituteSlice expands every element of a slice.
func substituteSlice(in []string, sessionID string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = substitute(s, sessionID)
	}
	return out
}

// substituteMap expands every value of a map. Keys pass through.
func substituteMap(in map[string]string, sessionID string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = substitute(v, sessionID)
	}
	return out
}

// expandConfig returns a copy of the server config with ${NAME}
// substitution applied to args, env, url, and headers.
func expandConfig(cfg config.MCPServerConfig, sessionID string) config.MCPServerConfig {
	out := cfg
	out.Args = substituteSlice(cfg.Args, sessionID)
	out.Env = substituteMap(cfg.Env, sessionID)
	out.URL = substitute(cfg.URL, sessionID)
	out.Headers = substituteMap(cfg.Headers, sessionID)
	return out
}

// referencesSession reports whether the config uses the per-session
// streaming id bindings anywhere. Such servers get one client per
// session instead of a shared one.
func referencesSession(cfg config.MCPServerConfig) bool {
	contains := func(s string) bool {
		return strings.Contains(s, "${"+streamingIDVar+"}") ||
			strings.Contains(s, "${"+mcpStreamingIDVar+"}")
	}

	if contains(cfg.URL) {
		return true
	}
	for _, a := range cfg.Args {
		if contains(a) {
			return true
		}
	}
	for _, v := range cfg.Env {
		if contains(v) {
			return true
		}
	}
	for _, v := range cfg.Headers {
		if contains(v) {
			return true
		}
	}
	return false
}
