package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/internal/sse"
	"switchboard/internal/stream"
	"switchboard/internal/transformer"
	"switchboard/internal/usage"
)

func testRouter(t *testing.T, providers ...config.Provider) (*Router, *usage.Cache) {
	t.Helper()
	cfg := &config.Config{Providers: providers}
	cfg.ApplyDefaults()
	store := config.NewStore(cfg, "")
	cache := usage.NewCache(usage.DefaultCapacity)
	return New(store, transformer.NewRegistry(), cache), cache
}

func enabledProvider(name, baseURL string, keys ...string) config.Provider {
	return config.Provider{Name: name, BaseURL: baseURL, APIKeys: keys, Enabled: true}
}

func messagesBody(model string, extra map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{
		"model":    model,
		"messages": []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func TestDispatchRejectsBadModel(t *testing.T) {
	r, _ := testRouter(t)

	tests := []struct {
		name  string
		model string
	}{
		{name: "missing", model: ""},
		{name: "no comma", model: "gpt-4o"},
		{name: "empty provider", model: ",gpt-4o"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &api.MessagesRequest{Body: messagesBody(tt.model, nil), Header: http.Header{}}
			_, err := r.Dispatch(context.Background(), req)
			require.Error(t, err)
			assert.True(t, api.IsType(err, api.ErrInvalidRequest))
		})
	}
}

func TestDispatchUnknownOrDisabledProvider(t *testing.T) {
	disabled := config.Provider{Name: "off", BaseURL: "http://unused", APIKeys: []string{"k"}, Enabled: false}
	r, _ := testRouter(t, disabled)

	for _, model := range []string{"ghost,gpt-4o", "off,gpt-4o"} {
		req := &api.MessagesRequest{Body: messagesBody(model, nil), Header: http.Header{}}
		_, err := r.Dispatch(context.Background(), req)
		require.Error(t, err)
		assert.True(t, api.IsType(err, api.ErrUnknownProvider), "model %s", model)
	}
}

func TestDispatchNoCredentials(t *testing.T) {
	r, _ := testRouter(t, enabledProvider("keyless", "http://unused"))

	req := &api.MessagesRequest{Body: messagesBody("keyless,gpt-4o", nil), Header: http.Header{}}
	_, err := r.Dispatch(context.Background(), req)
	require.Error(t, err)
	assert.True(t, api.IsType(err, api.ErrNoCredentials))
}

func TestDispatchRoundRobinKeysAndHeaderHygiene(t *testing.T) {
	var mu sync.Mutex
	var authHeaders []string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		mu.Unlock()
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Empty(t, r.Header.Get("X-Service-Key"), "inbound service auth must not leak")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","content":[]}`)
	}))
	defer upstream.Close()

	r, _ := testRouter(t, enabledProvider("openai", upstream.URL, "k1", "k2"))

	header := http.Header{}
	header.Set("Authorization", "Bearer service-key")
	for i := 0; i < 3; i++ {
		req := &api.MessagesRequest{Body: messagesBody("openai,gpt-4o", nil), Header: header}
		result, err := r.Dispatch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, result.Status)
	}

	assert.Equal(t, []string{"Bearer k1", "Bearer k2", "Bearer k1"}, authHeaders)
}

func TestDispatchNonStreamPassesThroughUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, `{"error":{"type":"overloaded"}}`)
	}))
	defer upstream.Close()

	r, _ := testRouter(t, enabledProvider("openai", upstream.URL, "k"))

	req := &api.MessagesRequest{Body: messagesBody("openai,gpt-4o", nil), Header: http.Header{}}
	result, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, result.Status)
	assert.JSONEq(t, `{"error":{"type":"overloaded"}}`, string(result.Body))
}

func TestDispatchNonStreamRecordsUsage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","usage":{"input_tokens":11,"output_tokens":7}}`)
	}))
	defer upstream.Close()

	r, cache := testRouter(t, enabledProvider("openai", upstream.URL, "k"))

	req := &api.MessagesRequest{
		Body:      messagesBody("openai,gpt-4o", nil),
		Header:    http.Header{},
		SessionID: "sess-1",
	}
	result, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.Status)

	rec, ok := cache.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, 11, rec.InputTokens)
	assert.Equal(t, 7, rec.OutputTokens)
}

func sseUpstream(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	}))
}

func collect(t *testing.T, events <-chan sse.Event) []sse.Event {
	t.Helper()
	var out []sse.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestDispatchStreamForwardsEventsAndUsage(t *testing.T) {
	upstream := sseUpstream(t,
		"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"input_tokens\":3,\"output_tokens\":9}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	)
	defer upstream.Close()

	r, cache := testRouter(t, enabledProvider("openai", upstream.URL, "k"))

	req := &api.MessagesRequest{
		Body:      messagesBody("openai,gpt-4o", map[string]interface{}{"stream": true}),
		Header:    http.Header{},
		SessionID: "sess-2",
	}
	result, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Streaming())

	events := collect(t, result.Events)
	require.Len(t, events, 3)
	assert.Equal(t, "message_start", events[0].Name)
	assert.Equal(t, "message_delta", events[1].Name)
	assert.Equal(t, "message_stop", events[2].Name)

	rec, ok := cache.Get("sess-2")
	require.True(t, ok)
	assert.Equal(t, 9, rec.OutputTokens)
}

func TestDispatchStreamIgnoresMessageStartUsage(t *testing.T) {
	upstream := sseUpstream(t,
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\"},\"usage\":{\"input_tokens\":7,\"output_tokens\":1}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	)
	defer upstream.Close()

	r, cache := testRouter(t, enabledProvider("openai", upstream.URL, "k"))

	req := &api.MessagesRequest{
		Body:      messagesBody("openai,gpt-4o", map[string]interface{}{"stream": true}),
		Header:    http.Header{},
		SessionID: "sess-3",
	}
	result, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Streaming())

	collect(t, result.Events)

	_, ok := cache.Get("sess-3")
	assert.False(t, ok, "message_start usage must not populate the cache")
}

func TestDispatchStreamUpstreamErrorBecomesErrorEvent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"down"}`)
	}))
	defer upstream.Close()

	r, _ := testRouter(t, enabledProvider("openai", upstream.URL, "k"))

	req := &api.MessagesRequest{
		Body:   messagesBody("openai,gpt-4o", map[string]interface{}{"stream": true}),
		Header: http.Header{},
	}
	result, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Streaming())

	events := collect(t, result.Events)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Name)

	obj := events[0].Data.Object()
	require.NotNil(t, obj)
	assert.Equal(t, string(api.ErrUpstream), obj["type"])
}

type recordingInterceptor struct {
	mu        sync.Mutex
	requests  []*api.MessagesRequest
	intercept bool
}

func (ri *recordingInterceptor) Intercept(req *api.MessagesRequest, _ api.Dispatcher) (stream.Stage, bool) {
	ri.mu.Lock()
	ri.requests = append(ri.requests, req)
	ri.mu.Unlock()
	if !ri.intercept {
		return nil, false
	}
	return func(_ context.Context, in <-chan sse.Event) <-chan sse.Event {
		out := make(chan sse.Event)
		go func() {
			defer close(out)
			for ev := range in {
				out <- ev
			}
		}()
		return out
	}, true
}

func TestDispatchSkipsInterceptorOnContinuation(t *testing.T) {
	upstream := sseUpstream(t, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	defer upstream.Close()

	r, _ := testRouter(t, enabledProvider("openai", upstream.URL, "k"))
	interceptor := &recordingInterceptor{intercept: true}
	r.SetInterceptor(interceptor)

	// A continuation request must bypass the interceptor entirely.
	req := &api.MessagesRequest{
		Body: messagesBody("openai,gpt-4o", map[string]interface{}{
			"stream":                  true,
			api.InternalContinueField: true,
		}),
		Header: http.Header{},
	}
	result, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	collect(t, result.Events)
	assert.Empty(t, interceptor.requests)

	// A plain streaming request goes through it.
	req = &api.MessagesRequest{
		Body:   messagesBody("openai,gpt-4o", map[string]interface{}{"stream": true}),
		Header: http.Header{},
	}
	result, err = r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	collect(t, result.Events)
	assert.Len(t, interceptor.requests, 1)
}

func TestDispatchStreamClientCancellation(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	r, _ := testRouter(t, enabledProvider("openai", upstream.URL, "k"))

	ctx, cancel := context.WithCancel(context.Background())
	req := &api.MessagesRequest{
		Body:   messagesBody("openai,gpt-4o", map[string]interface{}{"stream": true}),
		Header: http.Header{},
	}
	result, err := r.Dispatch(ctx, req)
	require.NoError(t, err)

	cancel()
	events := collect(t, result.Events)
	assert.Empty(t, events)
}

func TestOutgoingHeader(t *testing.T) {
	in := http.Header{}
	in.Set("Authorization", "Bearer service")
	in.Set("Anthropic-Version", "2023-06-01")
	in.Set("Accept-Encoding", "gzip")

	out := outgoingHeader(in, "provider-key")

	assert.Equal(t, "Bearer provider-key", out.Get("Authorization"))
	assert.Equal(t, "2023-06-01", out.Get("Anthropic-Version"))
	assert.Empty(t, out.Get("Accept-Encoding"))
	assert.Equal(t, "application/json", out.Get("Content-Type"))
}

func TestNonJSONUpstreamBodyPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "plain text")
	}))
	defer upstream.Close()

	r, _ := testRouter(t, enabledProvider("openai", upstream.URL, "k"))

	req := &api.MessagesRequest{Body: messagesBody("openai,gpt-4o", nil), Header: http.Header{}}
	result, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(result.Body))
}

func TestTransformerFailureMidStreamSynthesizesErrorEvent(t *testing.T) {
	upstream := sseUpstream(t,
		"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\"}\n\n",
	)
	defer upstream.Close()

	registry := transformer.NewRegistry()
	registry.Register("explode", func(_ map[string]interface{}) (*transformer.Hooks, error) {
		return &transformer.Hooks{
			Name: "explode",
			Event: func(_ context.Context, ev sse.Event, _ stream.Sink) (*sse.Event, error) {
				if ev.Name == "content_block_delta" {
					return nil, fmt.Errorf("bad delta")
				}
				return &ev, nil
			},
		}, nil
	})

	provider := enabledProvider("openai", upstream.URL, "k")
	provider.Transformer = &config.TransformerBinding{
		Use: []config.TransformerRef{{Name: "explode"}},
	}
	cfg := &config.Config{Providers: []config.Provider{provider}}
	cfg.ApplyDefaults()
	r := New(config.NewStore(cfg, ""), registry, usage.NewCache(0))

	req := &api.MessagesRequest{
		Body:   messagesBody("openai,gpt-4o", map[string]interface{}{"stream": true}),
		Header: http.Header{},
	}
	result, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)

	events := collect(t, result.Events)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "error", last.Name)
	obj := last.Data.Object()
	require.NotNil(t, obj)
	assert.Equal(t, string(api.ErrTransformer), obj["type"])
}

func TestUsagePayloadShapes(t *testing.T) {
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{"type":"message_delta","usage":{"input_tokens":1,"output_tokens":2}}`), &decoded))
	rec, ok := usage.FromPayload(decoded)
	require.True(t, ok)
	assert.Equal(t, 2, rec.OutputTokens)
}
