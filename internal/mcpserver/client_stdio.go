package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"

	"switchboard/pkg/logging"
)

// StdioClient implements MCPClient by spawning the server as a child
// process and speaking the protocol over its stdin/stdout. Requests to a
// stdio server are serialized by the transport; the client does not need
// its own queue.
type StdioClient struct {
	baseMCPClient
	command string
	args    []string
	env     map[string]string
}

// NewStdioClient creates a stdio-based MCP client. env entries are added
// to the child's environment.
func NewStdioClient(command string, args []string, env map[string]string) *StdioClient {
	return &StdioClient{
		command: command,
		args:    args,
		env:     env,
	}
}

// Initialize starts the child process and performs the MCP handshake.
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("StdioClient", "Starting %s %v", c.command, c.args)

	envStrings := make([]string, 0, len(c.env))
	for k, v := range c.env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(c.command, envStrings, c.args...)
	if err != nil {
		return fmt.Errorf("failed to create stdio client: %w", err)
	}

	if err := c.handshake(ctx, mcpClient); err != nil {
		// Close reaps the child process after a failed handshake.
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("StdioClient", "Closing failed client for %s: %v", c.command, closeErr)
		}
		return err
	}

	logging.Debug("StdioClient", "Connected to %s", c.command)
	return nil
}
