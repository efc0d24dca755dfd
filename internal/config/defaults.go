package config

import "time"

// Network defaults.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 3457
)

// Pipeline defaults.
const (
	DefaultMaxToolRounds     = 8
	DefaultUsageCacheSize    = 4096
	DefaultRequestQueueDepth = 32
)

// Timeouts used across the request pipeline.
const (
	// UpstreamRequestTimeout bounds non-streaming upstream calls.
	UpstreamRequestTimeout = 120 * time.Second
	// StreamIdleTimeout aborts a stream with no upstream bytes.
	StreamIdleTimeout = 60 * time.Second
	// ToolHandlerTimeout bounds one local tool execution.
	ToolHandlerTimeout = 30 * time.Second
	// SessionIdleTimeout expires idle aggregator sessions.
	SessionIdleTimeout = 10 * time.Minute
	// ReconnectMaxInterval caps the MCP reconnect backoff.
	ReconnectMaxInterval = 30 * time.Second
)

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.UsageCacheSize == 0 {
		c.UsageCacheSize = DefaultUsageCacheSize
	}
	if c.RequestQueueDepth == 0 {
		c.RequestQueueDepth = DefaultRequestQueueDepth
	}
	if c.SessionIdleTimeoutSec == 0 {
		c.SessionIdleTimeoutSec = int(SessionIdleTimeout / time.Second)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// SessionIdleDuration returns the configured aggregator idle timeout.
func (c *Config) SessionIdleDuration() time.Duration {
	return time.Duration(c.SessionIdleTimeoutSec) * time.Second
}
