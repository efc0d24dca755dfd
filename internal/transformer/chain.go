package transformer

import (
	"context"

	"switchboard/internal/api"
	"switchboard/internal/sse"
	"switchboard/internal/stream"
)

// Chain is an ordered list of transformer hook records built for one
// request. Outgoing phases apply in array order, incoming phases in
// reverse order, so a transformer that renames a field on the way out
// sees its own renaming undone last on the way back.
type Chain struct {
	hooks []*Hooks
}

// Len returns the number of transformers in the chain.
func (c *Chain) Len() int {
	return len(c.hooks)
}

// Names lists the chain's transformer names in application order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.hooks))
	for i, h := range c.hooks {
		names[i] = h.Name
	}
	return names
}

// ApplyRequest runs the outgoing phases over the request descriptor:
// every RequestBody hook in order, then every Request hook in order. A
// Request hook returning done short-circuits the remainder of the chain.
func (c *Chain) ApplyRequest(ctx context.Context, req *Request) error {
	for _, h := range c.hooks {
		if h.RequestBody == nil {
			continue
		}
		body, err := h.RequestBody(ctx, req.Body)
		if err != nil {
			return api.WrapError(api.ErrTransformer, err, "transformer %q rejected request body: %v", h.Name, err)
		}
		if body != nil {
			req.Body = body
		}
	}

	for _, h := range c.hooks {
		if h.Request == nil {
			continue
		}
		done, err := h.Request(ctx, req)
		if err != nil {
			return api.WrapError(api.ErrTransformer, err, "transformer %q rejected request: %v", h.Name, err)
		}
		if done {
			return nil
		}
	}
	return nil
}

// ApplyResponseBody runs the non-streaming incoming phase in reverse
// chain order.
func (c *Chain) ApplyResponseBody(ctx context.Context, body map[string]interface{}) (map[string]interface{}, error) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		h := c.hooks[i]
		if h.ResponseBody == nil {
			continue
		}
		next, err := h.ResponseBody(ctx, body)
		if err != nil {
			return nil, api.WrapError(api.ErrTransformer, err, "transformer %q rejected response body: %v", h.Name, err)
		}
		if next != nil {
			body = next
		}
	}
	return body, nil
}

// StreamHandler composes the chain's Event hooks into one stream
// handler, applied in reverse chain order per event. An event dropped by
// any hook stops the remaining hooks for that event.
func (c *Chain) StreamHandler() stream.Handler {
	return func(ctx context.Context, ev sse.Event, sink stream.Sink) (*sse.Event, error) {
		current := &ev
		for i := len(c.hooks) - 1; i >= 0; i-- {
			h := c.hooks[i]
			if h.Event == nil {
				continue
			}
			next, err := h.Event(ctx, *current, sink)
			if err != nil {
				return nil, api.WrapError(api.ErrTransformer, err, "transformer %q failed mid-stream: %v", h.Name, err)
			}
			if next == nil {
				return nil, nil
			}
			current = next
		}
		return current, nil
	}
}

// HasStreamHooks reports whether any transformer participates in the
// streaming phase, letting the router skip an identity pipeline stage.
func (c *Chain) HasStreamHooks() bool {
	for _, h := range c.hooks {
		if h.Event != nil {
			return true
		}
	}
	return false
}
