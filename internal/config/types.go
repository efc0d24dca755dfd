package config

import (
	"encoding/json"
	"fmt"
)

// Provider describes one upstream LLM API endpoint.
type Provider struct {
	Name        string              `json:"name" yaml:"name"`
	BaseURL     string              `json:"baseUrl" yaml:"baseUrl"`
	APIKeys     []string            `json:"apiKeys" yaml:"apiKeys"`
	Models      []string            `json:"models" yaml:"models"`
	Enabled     bool                `json:"enabled" yaml:"enabled"`
	Sort        int                 `json:"sort,omitempty" yaml:"sort,omitempty"`
	Transformer *TransformerBinding `json:"transformer,omitempty" yaml:"transformer,omitempty"`
	// Limit caps in-flight requests to this provider. Zero means unbounded.
	Limit int `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// TransformerRef names one transformer in a chain, with optional options.
// On the wire it is either ["name"] or ["name", {options}] or a bare
// "name" string.
type TransformerRef struct {
	Name    string
	Options map[string]interface{}
}

// UnmarshalJSON accepts both the bare-string and the tuple form.
func (r *TransformerRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.Name = name
		return nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("transformer reference must be a string or array: %w", err)
	}
	if len(tuple) == 0 {
		return fmt.Errorf("transformer reference array is empty")
	}
	if err := json.Unmarshal(tuple[0], &r.Name); err != nil {
		return fmt.Errorf("transformer name must be a string: %w", err)
	}
	if len(tuple) > 1 {
		if err := json.Unmarshal(tuple[1], &r.Options); err != nil {
			return fmt.Errorf("transformer options must be an object: %w", err)
		}
	}
	return nil
}

// MarshalJSON renders the tuple form, dropping the options when absent.
func (r TransformerRef) MarshalJSON() ([]byte, error) {
	if r.Options == nil {
		return json.Marshal([]interface{}{r.Name})
	}
	return json.Marshal([]interface{}{r.Name, r.Options})
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML config files.
func (r *TransformerRef) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		r.Name = name
		return nil
	}

	var tuple []interface{}
	if err := unmarshal(&tuple); err != nil {
		return fmt.Errorf("transformer reference must be a string or array: %w", err)
	}
	if len(tuple) == 0 {
		return fmt.Errorf("transformer reference array is empty")
	}
	n, ok := tuple[0].(string)
	if !ok {
		return fmt.Errorf("transformer name must be a string, got %T", tuple[0])
	}
	r.Name = n
	if len(tuple) > 1 {
		opts, ok := normalizeMap(tuple[1])
		if !ok {
			return fmt.Errorf("transformer options must be an object, got %T", tuple[1])
		}
		r.Options = opts
	}
	return nil
}

// TransformerBinding binds a global transformer chain plus optional
// per-model chains to a provider. On the wire the per-model chains are
// sibling keys of "use":
//
//	{"use": [["openai"]], "gpt-4o-mini": {"use": [["maxtoken", {"max": 8192}]]}}
type TransformerBinding struct {
	Use      []TransformerRef
	PerModel map[string][]TransformerRef
}

// UnmarshalJSON splits the "use" key from the per-model sibling keys.
func (b *TransformerBinding) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("transformer binding must be an object: %w", err)
	}

	b.Use = nil
	b.PerModel = nil
	for key, value := range raw {
		if key == "use" {
			if err := json.Unmarshal(value, &b.Use); err != nil {
				return fmt.Errorf("transformer use chain: %w", err)
			}
			continue
		}
		var nested struct {
			Use []TransformerRef `json:"use"`
		}
		if err := json.Unmarshal(value, &nested); err != nil {
			return fmt.Errorf("per-model transformer chain for %q: %w", key, err)
		}
		if b.PerModel == nil {
			b.PerModel = make(map[string][]TransformerRef)
		}
		b.PerModel[key] = nested.Use
	}
	return nil
}

// MarshalJSON reassembles the wire shape.
func (b TransformerBinding) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 1+len(b.PerModel))
	if b.Use != nil {
		out["use"] = b.Use
	}
	for model, chain := range b.PerModel {
		out[model] = map[string]interface{}{"use": chain}
	}
	return json.Marshal(out)
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML config files.
func (b *TransformerBinding) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw map[string]interface{}
	if err := unmarshal(&raw); err != nil {
		return fmt.Errorf("transformer binding must be an object: %w", err)
	}
	// Round-trip through JSON so both formats share one decoding path.
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return b.UnmarshalJSON(data)
}

// ChainFor returns the effective transformer chain for a model: the
// global chain followed by the model's own chain when one is bound.
func (b *TransformerBinding) ChainFor(model string) []TransformerRef {
	if b == nil {
		return nil
	}
	chain := make([]TransformerRef, 0, len(b.Use))
	chain = append(chain, b.Use...)
	if perModel, ok := b.PerModel[model]; ok {
		chain = append(chain, perModel...)
	}
	return chain
}

// TransportKind identifies how to reach an upstream MCP server.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "http"
)

// MCPServerConfig is the tagged union of upstream MCP transports. A
// command implies stdio; otherwise a URL implies streamable HTTP, or SSE
// when the type says so explicitly.
type MCPServerConfig struct {
	// Type forces a transport; normally it is detected.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// stdio fields
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// http / sse fields
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Transport applies the detection rule and returns the effective kind.
func (c MCPServerConfig) Transport() (TransportKind, error) {
	switch c.Type {
	case string(TransportStdio), string(TransportSSE), string(TransportStreamableHTTP):
		return TransportKind(c.Type), nil
	case "streamable-http", "streamableHttp":
		return TransportStreamableHTTP, nil
	case "":
		// Fall through to detection.
	default:
		return "", fmt.Errorf("unknown MCP transport type %q", c.Type)
	}

	if c.Command != "" {
		return TransportStdio, nil
	}
	if c.URL != "" {
		return TransportStreamableHTTP, nil
	}
	return "", fmt.Errorf("MCP server config needs either a command or a url")
}

// MCPServer is one named upstream MCP server definition.
type MCPServer struct {
	Name   string          `json:"name" yaml:"name"`
	Config MCPServerConfig `json:"config" yaml:"config"`
}

// AgentToolConfig declares one tool an agent exposes.
type AgentToolConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// AgentConfig declares a locally registered agent and its tools.
type AgentConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Enabled bool              `json:"enabled" yaml:"enabled"`
	Tools   []AgentToolConfig `json:"tools" yaml:"tools"`
}

// Config is the top-level configuration document.
type Config struct {
	Host   string `json:"host,omitempty" yaml:"host,omitempty"`
	Port   int    `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey string `json:"apikey,omitempty" yaml:"apikey,omitempty"`

	Providers  []Provider  `json:"providers" yaml:"providers"`
	MCPServers []MCPServer `json:"mcpServers" yaml:"mcpServers"`
	Agents     []AgentConfig `json:"agents,omitempty" yaml:"agents,omitempty"`

	// MaxToolRounds bounds agent-loop continuation recursion.
	MaxToolRounds int `json:"maxToolRounds,omitempty" yaml:"maxToolRounds,omitempty"`
	// UsageCacheSize bounds the per-session usage cache.
	UsageCacheSize int `json:"usageCacheSize,omitempty" yaml:"usageCacheSize,omitempty"`
	// RequestQueueDepth is how many requests may wait on a provider's
	// concurrency limit before 429s are returned.
	RequestQueueDepth int `json:"requestQueueDepth,omitempty" yaml:"requestQueueDepth,omitempty"`
	// SessionIdleTimeoutSec expires idle aggregator sessions.
	SessionIdleTimeoutSec int `json:"sessionIdleTimeoutSec,omitempty" yaml:"sessionIdleTimeoutSec,omitempty"`

	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
}

// GetProvider looks a provider up by name.
func (c *Config) GetProvider(name string) (*Provider, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// GetMCPServer looks an MCP server definition up by name.
func (c *Config) GetMCPServer(name string) (*MCPServer, bool) {
	for i := range c.MCPServers {
		if c.MCPServers[i].Name == name {
			return &c.MCPServers[i], true
		}
	}
	return nil, false
}

// normalizeMap converts YAML's map[interface{}]interface{} shape into the
// string-keyed form used everywhere else.
func normalizeMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
