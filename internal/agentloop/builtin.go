package agentloop

import (
	"context"
	"fmt"
	"time"
)

// builtinAgents maps config agent names to the tools they ship with.
func builtinAgents() map[string][]Tool {
	return map[string][]Tool{
		"time-agent": {
			{
				Name:        "current_time",
				Description: "Returns the current time of the router host, optionally in a named timezone.",
				Agent:       "time-agent",
				Handler:     currentTime,
			},
		},
	}
}

func currentTime(_ context.Context, args map[string]interface{}) (interface{}, error) {
	loc := time.Local
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		loc = parsed
	}
	now := time.Now().In(loc)
	return map[string]interface{}{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
	}, nil
}
