package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregatedName(t *testing.T) {
	assert.Equal(t, "db__query", AggregatedName("db", "query"))
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantServer string
		wantTool   string
		wantOK     bool
	}{
		{
			name:       "simple",
			input:      "db__query",
			wantServer: "db",
			wantTool:   "query",
			wantOK:     true,
		},
		{
			name:       "tool name contains separator",
			input:      "db__list__tables",
			wantServer: "db",
			wantTool:   "list__tables",
			wantOK:     true,
		},
		{
			name:   "no separator",
			input:  "query",
			wantOK: false,
		},
		{
			name:   "empty server",
			input:  "__query",
			wantOK: false,
		},
		{
			name:   "empty tool",
			input:  "db__",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, ok := SplitName(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantServer, server)
			assert.Equal(t, tt.wantTool, tool)
		})
	}
}
