// Package aggregator exposes upstream MCP servers to downstream MCP
// clients over HTTP+SSE, one server group per route.
//
// Each downstream session gets its own in-process MCP server whose tool
// catalog mirrors the group's upstream tools under aggregated names
// (server__tool). JSON-RPC frames arrive on the messages endpoint and
// their responses travel back over the session's SSE stream.
//
// Sessions are keyed by the sessionId query parameter or the
// mcp-session-id header and expire after an idle timeout.
package aggregator
