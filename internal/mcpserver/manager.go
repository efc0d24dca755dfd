package mcpserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/pkg/logging"
)

// Status is the lifecycle state of one upstream MCP server entry.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// ServerEntry is the manager's record for one configured upstream.
// Tools are populated only while the status is connected.
type ServerEntry struct {
	Name   string
	Config config.MCPServerConfig

	mu        sync.RWMutex
	status    Status
	tools     []mcp.Tool
	lastError error
	transport config.TransportKind

	// client is the shared connection. For configs that reference the
	// per-session streaming id there is no shared client; connections
	// live in sessionClients instead.
	client         MCPClient
	perSession     bool
	sessionClients map[string]MCPClient

	// callMu serializes tool calls on stdio transports.
	callMu sync.Mutex

	reconnecting bool
}

// ServerStatus is the read-only snapshot exposed by ListServers.
type ServerStatus struct {
	Name      string   `json:"name"`
	Transport string   `json:"transport"`
	Status    Status   `json:"status"`
	Tools     []string `json:"tools"`
	LastError string   `json:"lastError,omitempty"`
}

// Manager owns every upstream MCP client for the process lifetime and
// keeps their health and cached tool catalogs.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*ServerEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// factory builds transport clients; replaced in tests.
	factory func(cfg config.MCPServerConfig, sessionID string) (MCPClient, error)
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		entries: make(map[string]*ServerEntry),
		factory: newClient,
	}
}

// Start connects every configured server in parallel. Individual
// failures do not fail the start: the entry is marked error and excluded
// from tool lists until an admin refresh or reconnect succeeds.
func (m *Manager) Start(ctx context.Context, servers []config.MCPServer) error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for _, def := range servers {
		entry, err := m.newEntry(def)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.entries[def.Name] = entry
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	m.mu.RLock()
	for _, entry := range m.entries {
		entry := entry
		g.Go(func() error {
			m.connect(gctx, entry)
			return nil
		})
	}
	m.mu.RUnlock()
	return g.Wait()
}

// Stop closes every upstream connection.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	entries := make([]*ServerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.entries = make(map[string]*ServerEntry)
	m.ctx = nil
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, entry := range entries {
		entry.closeAll()
	}
	m.wg.Wait()
}

func (m *Manager) newEntry(def config.MCPServer) (*ServerEntry, error) {
	kind, err := def.Config.Transport()
	if err != nil {
		return nil, fmt.Errorf("MCP server %s: %w", def.Name, err)
	}
	return &ServerEntry{
		Name:           def.Name,
		Config:         def.Config,
		status:         StatusConnecting,
		transport:      kind,
		perSession:     referencesSession(def.Config),
		sessionClients: make(map[string]MCPClient),
	}, nil
}

// connect establishes the shared client and caches the tool catalog.
// Per-session entries only verify that a client can be constructed; the
// catalog is read through a probe connection with an empty session id.
func (m *Manager) connect(ctx context.Context, entry *ServerEntry) {
	entry.mu.Lock()
	entry.status = StatusConnecting
	entry.mu.Unlock()

	client, err := m.factory(entry.Config, "")
	if err == nil {
		err = client.Initialize(ctx)
	}
	if err != nil {
		logging.Error("MCPManager", err, "Failed to connect MCP server %s", entry.Name)
		entry.mu.Lock()
		entry.status = StatusError
		entry.lastError = err
		entry.tools = nil
		entry.mu.Unlock()
		return
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		logging.Error("MCPManager", err, "Failed to list tools for %s", entry.Name)
		client.Close()
		entry.mu.Lock()
		entry.status = StatusError
		entry.lastError = err
		entry.tools = nil
		entry.mu.Unlock()
		return
	}

	entry.mu.Lock()
	entry.client = client
	entry.status = StatusConnected
	entry.lastError = nil
	entry.tools = tools
	entry.mu.Unlock()

	logging.Info("MCPManager", "Connected MCP server %s (%s) with %d tools", entry.Name, entry.transport, len(tools))
}

// ListServers returns a snapshot of every entry with its status.
func (m *Manager) ListServers() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry.snapshot())
	}
	return out
}

// GetServer returns the status snapshot for one entry.
func (m *Manager) GetServer(name string) (ServerStatus, bool) {
	entry, ok := m.entry(name)
	if !ok {
		return ServerStatus{}, false
	}
	return entry.snapshot(), true
}

func (e *ServerEntry) snapshot() ServerStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, len(e.tools))
	for i, t := range e.tools {
		names[i] = t.Name
	}
	s := ServerStatus{
		Name:      e.Name,
		Transport: string(e.transport),
		Status:    e.status,
		Tools:     names,
	}
	if e.lastError != nil {
		s.LastError = e.lastError.Error()
	}
	return s
}

func (e *ServerEntry) closeAll() {
	e.mu.Lock()
	client := e.client
	sessions := e.sessionClients
	e.client = nil
	e.sessionClients = make(map[string]MCPClient)
	e.status = StatusDisconnected
	e.tools = nil
	e.mu.Unlock()

	if client != nil {
		client.Close()
	}
	for _, c := range sessions {
		c.Close()
	}
}

func (m *Manager) entry(name string) (*ServerEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[name]
	return entry, ok
}

// GetTools returns the cached tool catalog for a connected server.
func (m *Manager) GetTools(name string) ([]mcp.Tool, error) {
	entry, ok := m.entry(name)
	if !ok {
		return nil, api.NewError(api.ErrMCPUpstreamUnavailable, "unknown MCP server %q", name)
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	if entry.status != StatusConnected {
		return nil, api.NewError(api.ErrMCPUpstreamUnavailable, "MCP server %q is %s", name, entry.status)
	}
	return append([]mcp.Tool(nil), entry.tools...), nil
}

// RefreshTools forces a re-query of the server's catalog, reconnecting
// first when the entry is not connected.
func (m *Manager) RefreshTools(ctx context.Context, name string) ([]mcp.Tool, error) {
	entry, ok := m.entry(name)
	if !ok {
		return nil, api.NewError(api.ErrMCPUpstreamUnavailable, "unknown MCP server %q", name)
	}

	entry.mu.RLock()
	connected := entry.status == StatusConnected
	client := entry.client
	entry.mu.RUnlock()

	if !connected || client == nil {
		m.connect(ctx, entry)
		return m.GetTools(name)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		m.markDisconnected(entry, err)
		return nil, api.WrapError(api.ErrMCPUpstreamUnavailable, err, "refreshing tools for %q: %v", name, err)
	}

	entry.mu.Lock()
	entry.tools = tools
	entry.mu.Unlock()
	return append([]mcp.Tool(nil), tools...), nil
}

// CallTool routes a tools/call to the named upstream. For per-session
// entries, a dedicated client keyed by sessionID is created lazily.
// stdio entries serialize calls; HTTP and SSE parallelize.
func (m *Manager) CallTool(ctx context.Context, serverName, toolName string, args map[string]interface{}, sessionID string) (*mcp.CallToolResult, error) {
	entry, ok := m.entry(serverName)
	if !ok {
		return nil, api.NewError(api.ErrMCPUpstreamUnavailable, "unknown MCP server %q", serverName)
	}

	client, err := m.clientFor(ctx, entry, sessionID)
	if err != nil {
		return nil, err
	}

	if entry.transport == config.TransportStdio {
		entry.callMu.Lock()
		defer entry.callMu.Unlock()
	}

	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		m.markDisconnected(entry, err)
		return nil, api.WrapError(api.ErrMCPUpstreamUnavailable, err, "calling %s on %s: %v", toolName, serverName, err)
	}
	return result, nil
}

// clientFor picks the connection to use for one call.
func (m *Manager) clientFor(ctx context.Context, entry *ServerEntry, sessionID string) (MCPClient, error) {
	entry.mu.RLock()
	perSession := entry.perSession
	status := entry.status
	shared := entry.client
	entry.mu.RUnlock()

	if !perSession {
		if status != StatusConnected || shared == nil {
			return nil, api.NewError(api.ErrMCPUpstreamUnavailable, "MCP server %q is %s", entry.Name, status)
		}
		return shared, nil
	}

	entry.mu.Lock()
	if c, ok := entry.sessionClients[sessionID]; ok {
		entry.mu.Unlock()
		return c, nil
	}
	entry.mu.Unlock()

	c, err := m.factory(entry.Config, sessionID)
	if err != nil {
		return nil, api.WrapError(api.ErrMCPUpstreamUnavailable, err, "building session client for %q: %v", entry.Name, err)
	}
	if err := c.Initialize(ctx); err != nil {
		return nil, api.WrapError(api.ErrMCPUpstreamUnavailable, err, "connecting session client for %q: %v", entry.Name, err)
	}

	entry.mu.Lock()
	if existing, ok := entry.sessionClients[sessionID]; ok {
		entry.mu.Unlock()
		c.Close()
		return existing, nil
	}
	entry.sessionClients[sessionID] = c
	entry.mu.Unlock()
	return c, nil
}

// ReleaseSession closes and forgets every per-session client created for
// the given session id. The aggregator calls this when a downstream
// session ends.
func (m *Manager) ReleaseSession(sessionID string) {
	m.mu.RLock()
	entries := make([]*ServerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, entry := range entries {
		entry.mu.Lock()
		client, ok := entry.sessionClients[sessionID]
		delete(entry.sessionClients, sessionID)
		entry.mu.Unlock()
		if ok {
			client.Close()
		}
	}
}

// markDisconnected records a failure and, for HTTP/SSE transports,
// schedules a reconnect with exponential backoff. stdio entries stay
// down until an explicit restart or refresh.
func (m *Manager) markDisconnected(entry *ServerEntry, cause error) {
	entry.mu.Lock()
	entry.status = StatusDisconnected
	entry.lastError = cause
	entry.tools = nil
	client := entry.client
	entry.client = nil
	alreadyReconnecting := entry.reconnecting
	shouldReconnect := entry.transport != config.TransportStdio && !alreadyReconnecting
	if shouldReconnect {
		entry.reconnecting = true
	}
	entry.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if !shouldReconnect {
		return
	}

	m.mu.RLock()
	ctx := m.ctx
	m.mu.RUnlock()
	if ctx == nil {
		entry.mu.Lock()
		entry.reconnecting = false
		entry.mu.Unlock()
		return
	}

	m.wg.Add(1)
	go m.reconnectLoop(ctx, entry)
}

// reconnectLoop retries the connection with exponential backoff capped
// at ReconnectMaxInterval, jittered 20 percent either way.
func (m *Manager) reconnectLoop(ctx context.Context, entry *ServerEntry) {
	defer m.wg.Done()
	defer func() {
		entry.mu.Lock()
		entry.reconnecting = false
		entry.mu.Unlock()
	}()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxInterval = config.ReconnectMaxInterval
	expBackoff.RandomizationFactor = 0.2
	expBackoff.Reset()

	operation := func() (struct{}, error) {
		m.connect(ctx, entry)
		entry.mu.RLock()
		status := entry.status
		lastErr := entry.lastError
		entry.mu.RUnlock()
		if status != StatusConnected {
			return struct{}{}, fmt.Errorf("still %s: %w", status, lastErr)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithNotify(func(_ error, wait time.Duration) {
			logging.Debug("MCPManager", "Reconnect to %s failed, retrying in %v", entry.Name, wait)
		}),
	)
	if err != nil {
		logging.Warn("MCPManager", "Gave up reconnecting to %s: %v", entry.Name, err)
		return
	}
	logging.Info("MCPManager", "Reconnected MCP server %s", entry.Name)
}

// AddServer registers and connects a new upstream at runtime.
func (m *Manager) AddServer(ctx context.Context, def config.MCPServer) error {
	entry, err := m.newEntry(def)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()
		return fmt.Errorf("manager not started")
	}
	if _, exists := m.entries[def.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("MCP server %q already exists", def.Name)
	}
	m.entries[def.Name] = entry
	m.mu.Unlock()

	m.connect(ctx, entry)
	return nil
}

// UpdateServer replaces an upstream's config, reconnecting it.
func (m *Manager) UpdateServer(ctx context.Context, def config.MCPServer) error {
	m.mu.Lock()
	old, exists := m.entries[def.Name]
	if !exists {
		m.mu.Unlock()
		return api.NewError(api.ErrMCPUpstreamUnavailable, "unknown MCP server %q", def.Name)
	}
	entry, err := m.newEntry(def)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.entries[def.Name] = entry
	m.mu.Unlock()

	old.closeAll()
	m.connect(ctx, entry)
	return nil
}

// RemoveServer disconnects and forgets an upstream.
func (m *Manager) RemoveServer(name string) error {
	m.mu.Lock()
	entry, exists := m.entries[name]
	delete(m.entries, name)
	m.mu.Unlock()

	if !exists {
		return api.NewError(api.ErrMCPUpstreamUnavailable, "unknown MCP server %q", name)
	}
	entry.closeAll()
	return nil
}
