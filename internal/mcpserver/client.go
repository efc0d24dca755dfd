package mcpserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// protocolVersion is the MCP protocol revision spoken to upstreams.
const protocolVersion = "2024-11-05"

// clientName identifies this router in MCP handshakes.
const clientName = "switchboard"

// MCPClient is the capability set every upstream transport exposes.
// Per-transport details stay in the implementations.
type MCPClient interface {
	// Initialize establishes the connection and performs the MCP
	// handshake. Idempotent while connected.
	Initialize(ctx context.Context) error
	// Close cleanly shuts down the connection.
	Close() error
	// ListTools returns the server's current tool catalog.
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	// CallTool executes one tool and returns its result.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	// Ping checks whether the server is responsive.
	Ping(ctx context.Context) error
}

// Compile-time interface compliance checks.
var (
	_ MCPClient = (*StdioClient)(nil)
	_ MCPClient = (*SSEClient)(nil)
	_ MCPClient = (*StreamableHTTPClient)(nil)
)

// baseMCPClient carries the MCP operations shared by every transport.
type baseMCPClient struct {
	client    client.MCPClient
	mu        sync.RWMutex
	connected bool
}

// checkConnected verifies the client is usable. Caller must hold at
// least a read lock on mu.
func (b *baseMCPClient) checkConnected() error {
	if !b.connected || b.client == nil {
		return fmt.Errorf("client not connected")
	}
	return nil
}

// handshake performs the protocol initialization on a freshly started
// mcp-go client. Caller must hold the write lock.
func (b *baseMCPClient) handshake(ctx context.Context, mcpClient client.MCPClient) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: "1.0.0",
	}

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("MCP handshake failed: %w", err)
	}

	b.client = mcpClient
	b.connected = true
	return nil
}

// Close cleanly shuts down the client connection.
func (b *baseMCPClient) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected || b.client == nil {
		return nil
	}

	err := b.client.Close()
	b.connected = false
	b.client = nil
	return err
}

// ListTools returns all available tools from the server.
func (b *baseMCPClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	result, err := b.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}

// CallTool executes a specific tool and returns the result.
func (b *baseMCPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := b.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}
	return result, nil
}

// Ping checks if the server is responsive.
func (b *baseMCPClient) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return err
	}
	return b.client.Ping(ctx)
}
