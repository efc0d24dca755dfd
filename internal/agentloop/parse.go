package agentloop

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseToolArgs decodes accumulated input_json_delta payloads. Models
// occasionally emit near-JSON with trailing commas or single-quoted
// strings; strict decoding is tried first, then a cleaned-up retry,
// then YAML, which accepts the single-quote form.
func ParseToolArgs(raw string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]interface{}{}, nil
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, nil
	}

	cleaned := stripTrailingCommas(trimmed)
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}

	var loose interface{}
	if err := yaml.Unmarshal([]byte(cleaned), &loose); err != nil {
		return nil, fmt.Errorf("tool arguments are not parseable: %w", err)
	}
	obj, ok := toStringMap(loose)
	if !ok {
		return nil, fmt.Errorf("tool arguments must be an object, got %T", loose)
	}
	return obj, nil
}

// stripTrailingCommas removes commas directly preceding a closing
// bracket, outside of string literals.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var inString bool
	var quote byte
	var escaped bool

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == quote {
				inString = false
			}
			continue
		}

		switch c {
		case '"', '\'':
			inString = true
			quote = c
			b.WriteByte(c)
		case ',':
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// toStringMap converts YAML's decoded shape into the string-keyed map
// used everywhere else.
func toStringMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	default:
		return nil, false
	}
}
