package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/internal/history"
	"switchboard/internal/mcpserver"
	"switchboard/internal/sse"
	"switchboard/internal/transformer"
	"switchboard/internal/usage"
)

// fakeDispatcher returns a canned result for every messages request.
type fakeDispatcher struct {
	result *api.MessagesResult
	err    error
	last   *api.MessagesRequest
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req *api.MessagesRequest) (*api.MessagesResult, error) {
	d.last = req
	return d.result, d.err
}

func testConfig(apikey string) *config.Config {
	cfg := &config.Config{
		APIKey: apikey,
		Providers: []config.Provider{{
			Name:    "openai",
			BaseURL: "https://api.example.com",
			APIKeys: []string{"k1"},
			Enabled: true,
		}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func testServer(t *testing.T, cfg *config.Config, dispatch api.Dispatcher) (*Server, *config.Store) {
	t.Helper()
	store := config.NewStore(cfg, "")
	registry := transformer.NewRegistry()
	transformer.RegisterBuiltins(registry)
	srv := New(Options{
		Store:        store,
		Dispatcher:   dispatch,
		Transformers: registry,
		Manager:      startedManager(t),
		Usage:        usage.NewCache(0),
		History:      history.NewLog(0, 0),
		Version:      "test",
	})
	return srv, store
}

func startedManager(t *testing.T) *mcpserver.Manager {
	t.Helper()
	m := mcpserver.NewManager()
	require.NoError(t, m.Start(context.Background(), nil))
	t.Cleanup(m.Stop)
	return m
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthBypassesAuth(t *testing.T) {
	srv, _ := testServer(t, testConfig("secret"), &fakeDispatcher{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
}

func TestAuthRejectsMissingToken(t *testing.T) {
	srv, _ := testServer(t, testConfig("secret"), &fakeDispatcher{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/providers", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/providers", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	srv, _ := testServer(t, testConfig(""), &fakeDispatcher{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/providers", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMessagesNonStreaming(t *testing.T) {
	dispatch := &fakeDispatcher{result: &api.MessagesResult{
		Status: http.StatusOK,
		Body:   []byte(`{"id":"msg_1","usage":{"input_tokens":7,"output_tokens":3}}`),
	}}
	srv, _ := testServer(t, testConfig(""), dispatch)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"openai,gpt-4o","messages":[]}`))
	req.Header.Set(api.SessionHeader, "sess-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"msg_1","usage":{"input_tokens":7,"output_tokens":3}}`, rec.Body.String())
	require.NotNil(t, dispatch.last)
	assert.Equal(t, "sess-1", dispatch.last.SessionID)

	// The request landed in the session history.
	entries := srv.opts.History.Session("sess-1")
	require.Len(t, entries, 1)
	assert.Equal(t, "openai,gpt-4o", entries[0].Model)
	assert.Equal(t, http.StatusOK, entries[0].Status)
	assert.False(t, entries[0].Streaming)
}

func TestMessagesSessionIDFromBody(t *testing.T) {
	dispatch := &fakeDispatcher{result: &api.MessagesResult{
		Status: http.StatusOK,
		Body:   []byte(`{"id":"msg_1"}`),
	}}
	srv, _ := testServer(t, testConfig(""), dispatch)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"openai,gpt-4o","messages":[],"sessionId":"sess-body"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, dispatch.last)
	assert.Equal(t, "sess-body", dispatch.last.SessionID)

	// Header still wins over the body field.
	req = httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"openai,gpt-4o","messages":[],"sessionId":"sess-body"}`))
	req.Header.Set(api.SessionHeader, "sess-header")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-header", dispatch.last.SessionID)
}

func TestMessagesStreaming(t *testing.T) {
	events := make(chan sse.Event, 2)
	events <- sse.Event{Name: "message_start", Data: sse.JSONData(map[string]interface{}{"type": "message_start"})}
	events <- sse.Event{Name: "message_stop", Data: sse.JSONData(map[string]interface{}{"type": "message_stop"})}
	close(events)

	dispatch := &fakeDispatcher{result: &api.MessagesResult{Status: http.StatusOK, Events: events}}
	srv, _ := testServer(t, testConfig(""), dispatch)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/messages",
		map[string]interface{}{"model": "openai,gpt-4o", "stream": true})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: message_start")
	assert.Contains(t, body, "event: message_stop")
}

func TestMessagesRejectsBadJSON(t *testing.T) {
	srv, _ := testServer(t, testConfig(""), &fakeDispatcher{})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errObj := decodeBody(t, rec)["error"].(map[string]interface{})
	assert.Equal(t, string(api.ErrInvalidRequest), errObj["type"])
}

func TestMessagesDispatchErrorStatus(t *testing.T) {
	dispatch := &fakeDispatcher{err: api.NewError(api.ErrUnknownProvider, "provider %q is not configured", "nope")}
	srv, _ := testServer(t, testConfig(""), dispatch)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/messages",
		map[string]interface{}{"model": "nope,gpt"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCountTokens(t *testing.T) {
	srv, _ := testServer(t, testConfig(""), &fakeDispatcher{})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/messages/count_tokens", map[string]interface{}{
		"model":    "openai,gpt-4o",
		"messages": []interface{}{map[string]interface{}{"role": "user", "content": "hello there, friend"}},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	tokens := decodeBody(t, rec)["input_tokens"].(float64)
	assert.Greater(t, tokens, float64(0))
}

func TestProviderCRUD(t *testing.T) {
	srv, store := testServer(t, testConfig(""), &fakeDispatcher{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/providers", config.Provider{
		Name:    "deepseek",
		BaseURL: "https://api.deepseek.com",
		APIKeys: []string{"dk"},
		Enabled: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate names conflict.
	rec = doJSON(t, h, http.MethodPost, "/providers", config.Provider{
		Name:    "deepseek",
		BaseURL: "https://api.deepseek.com",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/providers", nil)
	var providers []config.Provider
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &providers))
	assert.Len(t, providers, 2)

	rec = doJSON(t, h, http.MethodPut, "/providers/deepseek", config.Provider{
		BaseURL: "https://api2.deepseek.com",
		APIKeys: []string{"dk2"},
		Enabled: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	p, ok := store.Snapshot().GetProvider("deepseek")
	require.True(t, ok)
	assert.Equal(t, "https://api2.deepseek.com", p.BaseURL)

	rec = doJSON(t, h, http.MethodPut, "/providers/ghost", config.Provider{BaseURL: "https://x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/providers/deepseek", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok = store.Snapshot().GetProvider("deepseek")
	assert.False(t, ok)

	rec = doJSON(t, h, http.MethodDelete, "/providers/deepseek", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProviderValidationFailure(t *testing.T) {
	srv, _ := testServer(t, testConfig(""), &fakeDispatcher{})
	// Enabled providers need keys.
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/providers", config.Provider{
		Name:    "broken",
		BaseURL: "https://x",
		Enabled: true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToggleProvider(t *testing.T) {
	srv, store := testServer(t, testConfig(""), &fakeDispatcher{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/providers/enabled",
		map[string]interface{}{"name": "openai", "enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	p, _ := store.Snapshot().GetProvider("openai")
	assert.False(t, p.Enabled)

	rec = doJSON(t, h, http.MethodPost, "/api/providers/enabled",
		map[string]interface{}{"name": "ghost", "enabled": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigReplaceSetsNeedsRestart(t *testing.T) {
	srv, store := testServer(t, testConfig(""), &fakeDispatcher{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg config.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	cfg.Port = 4000

	rec = doJSON(t, h, http.MethodPost, "/api/config", cfg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.NeedsRestart())
	assert.Equal(t, 4000, store.Snapshot().Port)

	status := doJSON(t, h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, true, decodeBody(t, status)["needsRestart"])
}

func TestRestartClearsNeedsRestart(t *testing.T) {
	srv, store := testServer(t, testConfig(""), &fakeDispatcher{})
	called := false
	srv.opts.Restart = func(context.Context) error {
		called = true
		return nil
	}
	store.SetNeedsRestart(true)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/restart", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
	assert.False(t, store.NeedsRestart())
}

func TestListTransformers(t *testing.T) {
	srv, _ := testServer(t, testConfig(""), &fakeDispatcher{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/transformers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	names := decodeBody(t, rec)["transformers"].([]interface{})
	assert.Contains(t, names, "openai")
	assert.Contains(t, names, "maxtoken")
}

func TestStatus(t *testing.T) {
	srv, _ := testServer(t, testConfig(""), &fakeDispatcher{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	status := decodeBody(t, rec)
	assert.Equal(t, true, status["ok"])
	assert.Equal(t, "test", status["version"])
	assert.EqualValues(t, 1, status["providers"])
}

func TestSessionMessages(t *testing.T) {
	srv, _ := testServer(t, testConfig(""), &fakeDispatcher{})
	srv.opts.History.Append("sess-1", history.Entry{Model: "openai,gpt-4o", Status: 200})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions/sess-1/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decodeBody(t, rec)["messages"].([]interface{})
	require.Len(t, messages, 1)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions/ghost/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["messages"])
}

func TestMCPServerAdminUnknownNames(t *testing.T) {
	srv, _ := testServer(t, testConfig(""), &fakeDispatcher{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/mcp/servers", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/mcp/servers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/mcp/servers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/mcp/servers/ghost/tools", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
