package agentloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/config"
)

func TestNewRegistryDefaultsToAllBuiltins(t *testing.T) {
	r := NewRegistry(nil)

	tool, ok := r.Get("current_time")
	require.True(t, ok)
	assert.Equal(t, "time-agent", tool.Agent)
	assert.Equal(t, r.Len(), len(r.Names()))
}

func TestNewRegistryExplicitList(t *testing.T) {
	t.Run("empty list registers nothing", func(t *testing.T) {
		r := NewRegistry([]config.AgentConfig{})
		assert.Zero(t, r.Len())
	})

	t.Run("disabled agent skipped", func(t *testing.T) {
		r := NewRegistry([]config.AgentConfig{{Name: "time-agent", Enabled: false}})
		assert.Zero(t, r.Len())
	})

	t.Run("unknown agent skipped", func(t *testing.T) {
		r := NewRegistry([]config.AgentConfig{{Name: "weather-agent", Enabled: true}})
		assert.Zero(t, r.Len())
	})

	t.Run("enabled agent registers its tools", func(t *testing.T) {
		r := NewRegistry([]config.AgentConfig{{Name: "time-agent", Enabled: true}})
		_, ok := r.Get("current_time")
		assert.True(t, ok)
	})

	t.Run("tool list narrows the agent", func(t *testing.T) {
		r := NewRegistry([]config.AgentConfig{{
			Name:    "time-agent",
			Enabled: true,
			Tools:   []config.AgentToolConfig{{Name: "some_other_tool"}},
		}})
		_, ok := r.Get("current_time")
		assert.False(t, ok)
	})
}

func TestRegistryRegisterAndNames(t *testing.T) {
	r := NewRegistry([]config.AgentConfig{})
	r.Register(Tool{Name: "beta", Agent: "test"})
	r.Register(Tool{Name: "alpha", Agent: "test"})

	assert.Equal(t, []string{"alpha", "beta"}, r.Names())

	// Re-registering replaces.
	r.Register(Tool{Name: "alpha", Agent: "other"})
	tool, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "other", tool.Agent)
	assert.Equal(t, 2, r.Len())
}

func TestCurrentTimeTool(t *testing.T) {
	t.Run("default timezone", func(t *testing.T) {
		out, err := currentTime(context.Background(), map[string]interface{}{})
		require.NoError(t, err)
		result := out.(map[string]interface{})
		assert.NotEmpty(t, result["time"])
		assert.NotEmpty(t, result["timezone"])
	})

	t.Run("named timezone", func(t *testing.T) {
		out, err := currentTime(context.Background(), map[string]interface{}{"timezone": "UTC"})
		require.NoError(t, err)
		result := out.(map[string]interface{})
		assert.Equal(t, "UTC", result["timezone"])
	})

	t.Run("unknown timezone", func(t *testing.T) {
		_, err := currentTime(context.Background(), map[string]interface{}{"timezone": "Mars/Olympus"})
		assert.Error(t, err)
	})
}
