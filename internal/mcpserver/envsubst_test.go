package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"switchboard/internal/config"
)

func TestSubstitute(t *testing.T) {
	t.Setenv("SB_TEST_TOKEN", "tok-123")

	tests := []struct {
		name      string
		input     string
		sessionID string
		expected  string
	}{
		{
			name:      "streaming id binding",
			input:     "session=${STREAMING_ID}",
			sessionID: "abc",
			expected:  "session=abc",
		},
		{
			name:      "mcp streaming id alias",
			input:     "${MCP_STREAMING_ID}",
			sessionID: "xyz",
			expected:  "xyz",
		},
		{
			name:     "process env",
			input:    "Bearer ${SB_TEST_TOKEN}",
			expected: "Bearer tok-123",
		},
		{
			name:     "unknown var expands empty",
			input:    "x${SB_DOES_NOT_EXIST}y",
			expected: "xy",
		},
		{
			name:     "no pattern",
			input:    "plain",
			expected: "plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, substitute(tt.input, tt.sessionID))
		})
	}
}

func TestExpandConfig(t *testing.T) {
	t.Setenv("SB_TEST_HOST", "db.internal")

	cfg := config.MCPServerConfig{
		Command: "dbserver",
		Args:    []string{"--session", "${STREAMING_ID}"},
		Env:     map[string]string{"HOST": "${SB_TEST_HOST}"},
		URL:     "http://${SB_TEST_HOST}/mcp",
		Headers: map[string]string{"X-Session": "${MCP_STREAMING_ID}"},
	}

	out := expandConfig(cfg, "sess-1")
	assert.Equal(t, []string{"--session", "sess-1"}, out.Args)
	assert.Equal(t, "db.internal", out.Env["HOST"])
	assert.Equal(t, "http://db.internal/mcp", out.URL)
	assert.Equal(t, "sess-1", out.Headers["X-Session"])

	// The original is untouched.
	assert.Equal(t, "${STREAMING_ID}", cfg.Args[1])
}

func TestReferencesSession(t *testing.T) {
	assert.True(t, referencesSession(config.MCPServerConfig{
		Args: []string{"--id", "${STREAMING_ID}"},
	}))
	assert.True(t, referencesSession(config.MCPServerConfig{
		Headers: map[string]string{"X-S": "${MCP_STREAMING_ID}"},
	}))
	assert.True(t, referencesSession(config.MCPServerConfig{
		URL: "http://x/${STREAMING_ID}",
	}))
	assert.False(t, referencesSession(config.MCPServerConfig{
		Command: "srv",
		Env:     map[string]string{"A": "${HOME}"},
	}))
}
