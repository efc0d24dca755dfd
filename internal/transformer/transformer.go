package transformer

import (
	"context"
	"net/http"

	"switchboard/internal/sse"
	"switchboard/internal/stream"
)

// Request is the mutable outgoing HTTP request descriptor handed through
// the outgoing chain. Hooks may change any field.
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   map[string]interface{}
}

// Clone returns a shallow copy with its own header map, so a hook can be
// retried without observing a previous attempt's mutations.
func (r *Request) Clone() *Request {
	header := make(http.Header, len(r.Header))
	for k, v := range r.Header {
		header[k] = append([]string(nil), v...)
	}
	return &Request{URL: r.URL, Method: r.Method, Header: header, Body: r.Body}
}

// Hooks is the closed record of the four optional transformer
// capabilities. A nil hook means the transformer does not participate in
// that phase.
type Hooks struct {
	// Name identifies the transformer in logs and the registry listing.
	Name string

	// RequestBody rewrites the outgoing JSON body. Applied in chain
	// (array) order.
	RequestBody func(ctx context.Context, body map[string]interface{}) (map[string]interface{}, error)

	// Request rewrites the outgoing HTTP descriptor after the body
	// hooks ran. Returning done = true short-circuits the rest of the
	// outgoing chain: the descriptor is used as-is.
	Request func(ctx context.Context, req *Request) (done bool, err error)

	// ResponseBody rewrites a complete non-streaming response body.
	// Applied in reverse chain order.
	ResponseBody func(ctx context.Context, body map[string]interface{}) (map[string]interface{}, error)

	// Event rewrites one incoming SSE event. Applied in reverse chain
	// order; the sink can push synthesized events.
	Event func(ctx context.Context, ev sse.Event, sink stream.Sink) (*sse.Event, error)
}

// Factory builds one Hooks record for a provider or model binding. The
// options come from the config chain entry and may be nil.
type Factory func(options map[string]interface{}) (*Hooks, error)
