// Package mcpserver manages the upstream MCP server connections: one
// client per configured server (stdio, SSE, or streamable HTTP) behind a
// single MCPClient capability set, with health tracking, cached tool
// catalogs, ${NAME} environment substitution in configs, and an
// exponential-backoff reconnect policy for network transports.
//
// The Manager owns every client for the process lifetime. Servers whose
// config references the per-session streaming id bindings get a
// dedicated connection per downstream session instead of the shared one.
package mcpserver
