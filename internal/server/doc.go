// Package server binds the HTTP surface: the Anthropic-compatible
// messages endpoint, the admin API for providers and MCP servers, and
// the aggregator's per-group SSE endpoints. Handlers translate between
// HTTP and the internal components; no routing or MCP logic lives here.
package server
