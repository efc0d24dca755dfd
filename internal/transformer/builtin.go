package transformer

import (
	"context"
	"fmt"

	"switchboard/internal/sse"
	"switchboard/internal/stream"
)

// RegisterBuiltins installs the transformers that ship with the router.
func RegisterBuiltins(r *Registry) {
	r.Register("openai", NewOpenAI)
	r.Register("anthropic", NewAnthropic)
	r.Register("maxtoken", NewMaxToken)
	r.Register("reasoning", NewReasoning)
}

// NewOpenAI bridges the Anthropic-flavored client dialect to an
// OpenAI-responses-shaped upstream: messages becomes input on the way
// out, output becomes content on the way back, and data-only completion
// chunks are rewritten into content_block_delta events.
func NewOpenAI(_ map[string]interface{}) (*Hooks, error) {
	return &Hooks{
		Name: "openai",
		RequestBody: func(_ context.Context, body map[string]interface{}) (map[string]interface{}, error) {
			out := cloneBody(body)
			if messages, ok := out["messages"]; ok {
				out["input"] = messages
				delete(out, "messages")
			}
			return out, nil
		},
		ResponseBody: func(_ context.Context, body map[string]interface{}) (map[string]interface{}, error) {
			out := cloneBody(body)
			if output, ok := out["output"]; ok {
				out["content"] = output
				delete(out, "output")
			}
			return out, nil
		},
		Event: func(_ context.Context, ev sse.Event, _ stream.Sink) (*sse.Event, error) {
			if ev.Data.IsDone() {
				return &sse.Event{Name: "message_stop", Data: sse.JSONData(map[string]interface{}{
					"type": "message_stop",
				})}, nil
			}
			obj := ev.Data.Object()
			if obj == nil || ev.Name != "" {
				return &ev, nil
			}
			// Nameless chunk objects carry OpenAI deltas.
			choices, ok := obj["choices"].([]interface{})
			if !ok || len(choices) == 0 {
				return &ev, nil
			}
			choice, _ := choices[0].(map[string]interface{})
			delta, _ := choice["delta"].(map[string]interface{})
			text, _ := delta["content"].(string)
			if text == "" {
				return nil, nil
			}
			return &sse.Event{
				Name: "content_block_delta",
				Data: sse.JSONData(map[string]interface{}{
					"type":  "content_block_delta",
					"index": float64(0),
					"delta": map[string]interface{}{"type": "text_delta", "text": text},
				}),
			}, nil
		},
	}, nil
}

// NewAnthropic adapts authentication for Anthropic-native upstreams: the
// injected bearer key moves to x-api-key with the protocol version
// header alongside.
func NewAnthropic(_ map[string]interface{}) (*Hooks, error) {
	return &Hooks{
		Name: "anthropic",
		Request: func(_ context.Context, req *Request) (bool, error) {
			auth := req.Header.Get("Authorization")
			if len(auth) > 7 && auth[:7] == "Bearer " {
				req.Header.Del("Authorization")
				req.Header.Set("x-api-key", auth[7:])
			}
			if req.Header.Get("anthropic-version") == "" {
				req.Header.Set("anthropic-version", "2023-06-01")
			}
			return false, nil
		},
	}, nil
}

// NewMaxToken clamps max_tokens to the configured ceiling. Options:
// {"max": n}.
func NewMaxToken(options map[string]interface{}) (*Hooks, error) {
	max, ok := numberOption(options, "max")
	if !ok || max <= 0 {
		return nil, fmt.Errorf("maxtoken requires a positive \"max\" option")
	}
	return &Hooks{
		Name: "maxtoken",
		RequestBody: func(_ context.Context, body map[string]interface{}) (map[string]interface{}, error) {
			current, ok := body["max_tokens"].(float64)
			if ok && current <= max {
				return body, nil
			}
			out := cloneBody(body)
			out["max_tokens"] = max
			return out, nil
		},
	}, nil
}

// NewReasoning strips thinking configuration for upstreams that reject
// it, and rewrites extended-thinking deltas into plain text deltas.
func NewReasoning(_ map[string]interface{}) (*Hooks, error) {
	return &Hooks{
		Name: "reasoning",
		RequestBody: func(_ context.Context, body map[string]interface{}) (map[string]interface{}, error) {
			if _, ok := body["thinking"]; !ok {
				return body, nil
			}
			out := cloneBody(body)
			delete(out, "thinking")
			return out, nil
		},
		Event: func(_ context.Context, ev sse.Event, _ stream.Sink) (*sse.Event, error) {
			obj := ev.Data.Object()
			if ev.Name != "content_block_delta" || obj == nil {
				return &ev, nil
			}
			delta, _ := obj["delta"].(map[string]interface{})
			if delta == nil || delta["type"] != "thinking_delta" {
				return &ev, nil
			}
			text, _ := delta["thinking"].(string)
			rewritten := cloneBody(obj)
			rewritten["delta"] = map[string]interface{}{"type": "text_delta", "text": text}
			return &sse.Event{Name: ev.Name, Data: sse.JSONData(rewritten), ID: ev.ID}, nil
		},
	}, nil
}

// cloneBody copies the top level of a JSON object so hooks never mutate
// a body another component still references.
func cloneBody(body map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(body))
	for k, v := range body {
		out[k] = v
	}
	return out
}

func numberOption(options map[string]interface{}, key string) (float64, bool) {
	if options == nil {
		return 0, false
	}
	switch v := options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
