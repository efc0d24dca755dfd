package config

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError describes one invalid field in a configuration document.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass so the admin
// API can report them all at once.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any validation problem was recorded.
func (e ValidationErrors) HasErrors() bool { return len(e) > 0 }

// Add records one problem.
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// providerNamePattern is the grammar for the provider half of a model
// identifier.
var providerNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateProvider checks the provider invariants: a valid name, a
// non-empty base URL, keys when enabled, and unique model entries.
func ValidateProvider(p *Provider) error {
	var errs ValidationErrors

	if p.Name == "" {
		errs.Add("name", "is required")
	} else if !providerNamePattern.MatchString(p.Name) {
		errs.Add("name", "must match [A-Za-z0-9_.-]+")
	}
	if p.BaseURL == "" {
		errs.Add("baseUrl", "is required")
	}
	if p.Enabled && len(p.APIKeys) == 0 {
		errs.Add("apiKeys", "must be non-empty while the provider is enabled")
	}
	if p.Limit < 0 {
		errs.Add("limit", "must not be negative")
	}

	seen := make(map[string]bool, len(p.Models))
	for _, model := range p.Models {
		if seen[model] {
			errs.Add("models", fmt.Sprintf("duplicate entry %q", model))
		}
		seen[model] = true
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidateMCPServer checks an MCP server definition, including that the
// transport detection rule produces a usable result.
func ValidateMCPServer(s *MCPServer) error {
	var errs ValidationErrors

	if s.Name == "" {
		errs.Add("name", "is required")
	} else if !providerNamePattern.MatchString(s.Name) {
		errs.Add("name", "must match [A-Za-z0-9_.-]+")
	}

	kind, err := s.Config.Transport()
	if err != nil {
		errs.Add("config", err.Error())
	} else {
		switch kind {
		case TransportStdio:
			if s.Config.Command == "" {
				errs.Add("config.command", "is required for stdio servers")
			}
		case TransportSSE, TransportStreamableHTTP:
			if s.Config.URL == "" {
				errs.Add("config.url", "is required for http/sse servers")
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate checks the whole document: per-entry invariants plus unique
// names across providers and MCP servers.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Port < 0 || c.Port > 65535 {
		errs.Add("port", "must be a valid TCP port")
	}

	providerNames := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if providerNames[p.Name] {
			errs.Add("providers", fmt.Sprintf("duplicate provider %q", p.Name))
		}
		providerNames[p.Name] = true
		if err := ValidateProvider(p); err != nil {
			if ve, ok := err.(ValidationErrors); ok {
				for _, e := range ve {
					errs.Add(fmt.Sprintf("providers[%s].%s", p.Name, e.Field), e.Message)
				}
			} else {
				errs.Add(fmt.Sprintf("providers[%s]", p.Name), err.Error())
			}
		}
	}

	serverNames := make(map[string]bool, len(c.MCPServers))
	for i := range c.MCPServers {
		s := &c.MCPServers[i]
		if serverNames[s.Name] {
			errs.Add("mcpServers", fmt.Sprintf("duplicate MCP server %q", s.Name))
		}
		serverNames[s.Name] = true
		if err := ValidateMCPServer(s); err != nil {
			if ve, ok := err.(ValidationErrors); ok {
				for _, e := range ve {
					errs.Add(fmt.Sprintf("mcpServers[%s].%s", s.Name, e.Field), e.Message)
				}
			} else {
				errs.Add(fmt.Sprintf("mcpServers[%s]", s.Name), err.Error())
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
