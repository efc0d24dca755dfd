package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/internal/sse"
	"switchboard/internal/stream"
	"switchboard/internal/transformer"
	"switchboard/internal/usage"
	"switchboard/pkg/logging"
)

// messagesPath is appended to a provider's base URL unless a
// transformer rewrites the target.
const messagesPath = "/v1/messages"

// Interceptor is the agent loop's entry point into the stream pipeline.
// Intercept returns the stream stage to splice in after the transformer
// hooks and whether the request qualifies for interception at all.
type Interceptor interface {
	Intercept(req *api.MessagesRequest, dispatch api.Dispatcher) (stream.Stage, bool)
}

// Router implements api.Dispatcher over the configured providers.
type Router struct {
	store    *config.Store
	registry *transformer.Registry
	usage    *usage.Cache

	client      *http.Client
	interceptor Interceptor

	cursors  sync.Map // provider name -> *atomic.Uint64
	limiters sync.Map // provider name -> *limiter

	queueDepth int
}

// New creates a router over the given configuration store.
func New(store *config.Store, registry *transformer.Registry, cache *usage.Cache) *Router {
	return &Router{
		store:      store,
		registry:   registry,
		usage:      cache,
		client:     &http.Client{},
		queueDepth: config.DefaultRequestQueueDepth,
	}
}

// SetInterceptor installs the agent loop. Must be called before the
// router serves traffic.
func (r *Router) SetInterceptor(i Interceptor) {
	r.interceptor = i
}

// Dispatch routes one messages request to its provider and returns
// either the transformed response body or the live event stream.
func (r *Router) Dispatch(ctx context.Context, req *api.MessagesRequest) (*api.MessagesResult, error) {
	model := req.Model()
	if model == "" {
		return nil, api.NewError(api.ErrInvalidRequest, "request body has no model field")
	}
	ref, err := api.ParseModelRef(model)
	if err != nil {
		return nil, err
	}

	cfg := r.store.Snapshot()
	provider, ok := cfg.GetProvider(ref.Provider)
	if !ok || !provider.Enabled {
		return nil, api.NewError(api.ErrUnknownProvider, "provider %q is not configured or disabled", ref.Provider)
	}

	key := r.nextKey(provider)
	if key == "" {
		return nil, api.NewError(api.ErrNoCredentials, "provider %q has no API keys", provider.Name)
	}

	chain, err := r.registry.BuildForProvider(provider, ref.Model)
	if err != nil {
		return nil, api.WrapError(api.ErrTransformer, err, "building chain for %s: %v", provider.Name, err)
	}

	outReq := &transformer.Request{
		URL:    strings.TrimRight(provider.BaseURL, "/") + messagesPath,
		Method: http.MethodPost,
		Header: outgoingHeader(req.Header, key),
		Body:   req.Body,
	}
	if err := chain.ApplyRequest(ctx, outReq); err != nil {
		if api.IsType(err, api.ErrTransformer) {
			return nil, err
		}
		return nil, api.WrapError(api.ErrTransformer, err, "outgoing rewrite failed: %v", err)
	}

	release, err := r.acquire(ctx, provider)
	if err != nil {
		return nil, err
	}

	if !req.Stream() {
		defer release()
		return r.dispatchOnce(ctx, req, chain, outReq)
	}
	return r.dispatchStream(ctx, req, chain, outReq, release)
}

// dispatchOnce performs a non-streaming upstream call.
func (r *Router) dispatchOnce(ctx context.Context, req *api.MessagesRequest, chain *transformer.Chain, outReq *transformer.Request) (*api.MessagesResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, config.UpstreamRequestTimeout)
	defer cancel()

	resp, err := r.send(callCtx, outReq, false)
	if err != nil {
		return nil, r.classifyDialError(err, outReq.URL)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, api.WrapError(api.ErrUpstream, err, "reading upstream response: %v", err).WithStatus(http.StatusBadGateway)
	}

	// Non-2xx passes through untransformed, status and body intact.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &api.MessagesResult{Status: resp.StatusCode, Body: raw}, nil
	}

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return &api.MessagesResult{Status: resp.StatusCode, Body: raw}, nil
	}

	body, err = chain.ApplyResponseBody(ctx, body)
	if err != nil {
		return nil, api.WrapError(api.ErrTransformer, err, "incoming rewrite failed: %v", err)
	}

	if req.SessionID != "" {
		if rec, ok := usage.FromPayload(body); ok {
			r.usage.Put(req.SessionID, rec)
		}
	}

	out, err := json.Marshal(body)
	if err != nil {
		return nil, api.WrapError(api.ErrInternal, err, "re-encoding response: %v", err)
	}
	return &api.MessagesResult{Status: resp.StatusCode, Body: out}, nil
}

// dispatchStream performs a streaming upstream call and wires the event
// pipeline. The release callback runs when the stream finishes.
func (r *Router) dispatchStream(ctx context.Context, req *api.MessagesRequest, chain *transformer.Chain, outReq *transformer.Request, release func()) (*api.MessagesResult, error) {
	resp, err := r.send(ctx, outReq, true)
	if err != nil {
		release()
		return nil, r.classifyDialError(err, outReq.URL)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		release()
		logging.Warn("Router", "Upstream %s returned %d for streaming request: %s", outReq.URL, resp.StatusCode, string(raw))
		apiErr := api.NewError(api.ErrUpstream, "upstream returned status %d", resp.StatusCode).WithStatus(resp.StatusCode)
		return &api.MessagesResult{Status: resp.StatusCode, Events: singleEventStream(errorEvent(apiErr))}, nil
	}

	handlers := []stream.Handler{chain.StreamHandler()}
	if req.SessionID != "" {
		handlers = append(handlers, usageSink(r.usage, req.SessionID))
	}

	composed := stream.Compose(handlers...)
	// A handler failure mid-stream surfaces to the client as a final
	// error event; the buffered event drains before the channel closes.
	handler := func(hctx context.Context, ev sse.Event, sink stream.Sink) (*sse.Event, error) {
		out, err := composed(hctx, ev, sink)
		if err != nil && !errors.Is(err, stream.ErrStreamClosed) {
			sink.Enqueue(errorEvent(err))
		}
		return out, err
	}

	pipe := stream.NewPipeline(ctx, handler, stream.DefaultBuffer)

	in := make(chan sse.Event, stream.DefaultBuffer)
	go pumpEvents(ctx, resp.Body, in)
	go func() {
		pipe.Run(in)
		release()
	}()

	// The agent loop splices in after the pipeline so it can keep the
	// client stream open past the upstream EOF while tools run.
	events := pipe.Events()
	if r.interceptor != nil && !req.InternalContinue() {
		if stage, ok := r.interceptor.Intercept(req, r); ok {
			events = stage(ctx, events)
		}
	}

	return &api.MessagesResult{Status: resp.StatusCode, Events: events}, nil
}

// send issues the rewritten request upstream.
func (r *Router) send(ctx context.Context, outReq *transformer.Request, streaming bool) (*http.Response, error) {
	payload, err := json.Marshal(outReq.Body)
	if err != nil {
		return nil, api.WrapError(api.ErrInternal, err, "encoding request body: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, outReq.Method, outReq.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, api.WrapError(api.ErrInvalidRequest, err, "building upstream request: %v", err)
	}
	httpReq.Header = outReq.Header
	if streaming {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	return r.client.Do(httpReq)
}

// classifyDialError logs timeouts and network failures distinctly but
// surfaces both as upstream errors.
func (r *Router) classifyDialError(err error, url string) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		logging.Error("Router", err, "Upstream %s timed out", url)
		return api.WrapError(api.ErrUpstream, err, "upstream request timed out").WithStatus(http.StatusBadGateway)
	}
	if errors.Is(err, context.Canceled) {
		return api.WrapError(api.ErrUpstream, err, "request cancelled")
	}
	logging.Error("Router", err, "Upstream %s unreachable", url)
	return api.WrapError(api.ErrUpstream, err, "upstream request failed: %v", err).WithStatus(http.StatusBadGateway)
}

// pumpEvents parses upstream bytes into events, enforcing the stream
// idle timeout. It closes in when the upstream ends.
func pumpEvents(ctx context.Context, body io.ReadCloser, in chan<- sse.Event) {
	defer close(in)
	defer body.Close()

	send := func(ev sse.Event) bool {
		select {
		case in <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	parser := sse.NewParser()
	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			buf := make([]byte, 16*1024)
			n, err := body.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-done:
					return
				}
			}
			if err != nil {
				select {
				case readErr <- err:
				case <-done:
				}
				return
			}
		}
	}()

	idle := time.NewTimer(config.StreamIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-chunks:
			for _, ev := range parser.Feed(chunk) {
				if !send(ev) {
					return
				}
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(config.StreamIdleTimeout)
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				for _, ev := range parser.Flush() {
					if !send(ev) {
						return
					}
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			logging.Error("Router", err, "Upstream stream read failed")
			send(errorEvent(api.WrapError(api.ErrUpstream, err, "stream read failed")))
			return
		case <-idle.C:
			logging.Warn("Router", "Upstream stream idle for %v, closing", config.StreamIdleTimeout)
			send(errorEvent(api.NewError(api.ErrUpstream, "upstream stream idle timeout")))
			return
		}
	}
}

// usageSink records token usage for the session. Only message_delta
// frames carry authoritative totals; message_start reports partial
// input counts and is ignored. Events pass through untouched.
func usageSink(cache *usage.Cache, sessionID string) stream.Handler {
	return func(_ context.Context, ev sse.Event, _ stream.Sink) (*sse.Event, error) {
		if ev.Name != "message_delta" {
			return &ev, nil
		}
		if obj := ev.Data.Object(); obj != nil {
			if rec, ok := usage.FromPayload(obj); ok {
				cache.Put(sessionID, rec)
			}
		}
		return &ev, nil
	}
}

// errorEvent synthesizes the error SSE frame sent when an upstream or
// transformer failure happens mid-stream.
func errorEvent(err error) sse.Event {
	apiErr := api.AsError(err)
	return sse.Event{
		Name: "error",
		Data: sse.JSONData(map[string]interface{}{
			"type":    string(apiErr.Type),
			"message": apiErr.Message,
		}),
	}
}

// singleEventStream returns a closed stream carrying one event.
func singleEventStream(ev sse.Event) <-chan sse.Event {
	ch := make(chan sse.Event, 1)
	ch <- ev
	close(ch)
	return ch
}

// outgoingHeader copies the client headers, strips the service key and
// hop-by-hop fields, and injects the provider credential.
func outgoingHeader(in http.Header, key string) http.Header {
	h := make(http.Header, len(in)+2)
	for name, values := range in {
		switch http.CanonicalHeaderKey(name) {
		case "Authorization", "Host", "Content-Length", "Accept-Encoding", "Connection":
		default:
			h[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
		}
	}
	h.Set("Authorization", "Bearer "+key)
	h.Set("Content-Type", "application/json")
	return h
}

// nextKey rotates through the provider's API keys with an atomic
// cursor kept per provider name.
func (r *Router) nextKey(p *config.Provider) string {
	if len(p.APIKeys) == 0 {
		return ""
	}
	v, _ := r.cursors.LoadOrStore(p.Name, new(atomic.Uint64))
	cursor := v.(*atomic.Uint64)
	idx := (cursor.Add(1) - 1) % uint64(len(p.APIKeys))
	return p.APIKeys[idx]
}

var _ api.Dispatcher = (*Router)(nil)
