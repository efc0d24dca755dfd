package api

import (
	"context"
	"net/http"
	"strings"

	"switchboard/internal/sse"
)

// InternalContinueField is the trusted body marker set by the agent loop
// on continuation requests. Requests carrying it bypass the agent loop so
// recursion never re-enters the interception path.
const InternalContinueField = "_internalToolContinue"

// SessionHeader is the wire header carrying the client's session id.
const SessionHeader = "mcp-session-id"

// SessionQueryParam is the query-string equivalent of SessionHeader.
const SessionQueryParam = "sessionId"

// SessionBodyField is the request-body equivalent, consulted when
// neither the header nor the query carries a session id.
const SessionBodyField = "sessionId"

// ModelRef is a parsed "<provider>,<model>" identifier.
type ModelRef struct {
	Provider string
	Model    string
}

// ParseModelRef splits a client model string on the first comma. Both
// halves are trimmed; whitespace-only halves are rejected.
func ParseModelRef(s string) (ModelRef, error) {
	idx := strings.Index(s, ",")
	if idx < 0 {
		return ModelRef{}, NewError(ErrInvalidRequest, "model %q must have the form \"provider,model\"", s)
	}
	provider := strings.TrimSpace(s[:idx])
	model := strings.TrimSpace(s[idx+1:])
	if provider == "" || model == "" {
		return ModelRef{}, NewError(ErrInvalidRequest, "model %q has an empty provider or model half", s)
	}
	return ModelRef{Provider: provider, Model: model}, nil
}

// String renders the canonical wire form.
func (m ModelRef) String() string {
	return m.Provider + "," + m.Model
}

// MessagesRequest is one client call to the messages endpoint after JSON
// decoding, carrying everything the pipeline needs.
type MessagesRequest struct {
	// Body is the decoded JSON request body.
	Body map[string]interface{}
	// Header carries the inbound HTTP headers, already stripped of the
	// client's service key.
	Header http.Header
	// SessionID correlates the request with a conversation. Empty when
	// the client sent none.
	SessionID string
}

// Stream reports whether the client asked for SSE.
func (r *MessagesRequest) Stream() bool {
	v, _ := r.Body["stream"].(bool)
	return v
}

// InternalContinue reports whether this is a trusted continuation
// request from the agent loop.
func (r *MessagesRequest) InternalContinue() bool {
	v, _ := r.Body[InternalContinueField].(bool)
	return v
}

// Model returns the raw model field.
func (r *MessagesRequest) Model() string {
	v, _ := r.Body["model"].(string)
	return v
}

// Tools returns the raw tools field, nil when absent.
func (r *MessagesRequest) Tools() []interface{} {
	v, _ := r.Body["tools"].([]interface{})
	return v
}

// MessagesResult is the outcome of dispatching a MessagesRequest.
// Exactly one of Body or Events is set: Body for non-streaming
// responses, Events for SSE streams.
type MessagesResult struct {
	// Status is the HTTP status for non-streaming responses.
	Status int
	// Body is the non-streaming response payload, already transformed.
	Body []byte
	// Events is the transformed SSE stream. The channel closes when the
	// upstream ends or the request context is cancelled.
	Events <-chan sse.Event
}

// Streaming reports whether the result is an SSE stream.
func (r *MessagesResult) Streaming() bool {
	return r.Events != nil
}

// Dispatcher issues messages requests into the routing pipeline. The
// agent loop holds one to re-issue continuation requests in-process
// instead of looping back through HTTP.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *MessagesRequest) (*MessagesResult, error)
}
