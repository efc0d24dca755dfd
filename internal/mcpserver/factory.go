package mcpserver

import (
	"fmt"

	"switchboard/internal/config"
)

// newClient builds an MCPClient for the given server config with
// session substitution already applied. The transport is selected by the
// config's detection rule.
func newClient(cfg config.MCPServerConfig, sessionID string) (MCPClient, error) {
	kind, err := cfg.Transport()
	if err != nil {
		return nil, err
	}

	expanded := expandConfig(cfg, sessionID)

	switch kind {
	case config.TransportStdio:
		return NewStdioClient(expanded.Command, expanded.Args, expanded.Env), nil
	case config.TransportSSE:
		return NewSSEClient(expanded.URL, expanded.Headers), nil
	case config.TransportStreamableHTTP:
		return NewStreamableHTTPClient(expanded.URL, expanded.Headers), nil
	default:
		return nil, fmt.Errorf("unsupported MCP transport %q", kind)
	}
}
