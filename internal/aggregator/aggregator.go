package aggregator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/internal/sse"
	"switchboard/pkg/logging"
)

const (
	serverName    = "switchboard-aggregator"
	serverVersion = "1.0.0"

	keepAliveInterval = 30 * time.Second
	janitorInterval   = time.Minute
)

// Upstream is the slice of the MCP manager the aggregator dispatches
// through.
type Upstream interface {
	GetTools(serverName string) ([]mcp.Tool, error)
	CallTool(ctx context.Context, serverName, toolName string, args map[string]interface{}, sessionID string) (*mcp.CallToolResult, error)
	ReleaseSession(sessionID string)
}

// Aggregator owns every downstream MCP session and routes their
// JSON-RPC traffic to the upstream manager.
type Aggregator struct {
	upstream    Upstream
	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an aggregator dispatching through the given upstream.
func New(upstream Upstream, idleTimeout time.Duration) *Aggregator {
	if idleTimeout <= 0 {
		idleTimeout = config.SessionIdleTimeout
	}
	return &Aggregator{
		upstream:    upstream,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
	}
}

// Start launches the idle-session janitor.
func (a *Aggregator) Start(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.wg.Add(1)
	go a.janitor()
}

// Stop destroys every session and waits for background work.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}

	a.mu.Lock()
	sessions := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()

	for _, s := range sessions {
		a.destroySession(s)
	}
	a.wg.Wait()
}

// ServeSSE handles GET /mcp/{group}: it allocates a session with a
// fresh MCP server for the group's tools and pumps the session's frames
// until the client disconnects or the session is destroyed.
func (a *Aggregator) ServeSSE(w http.ResponseWriter, r *http.Request, group string) {
	sessionID := requestSessionID(r)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	session, err := a.openSession(group, sessionID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	defer a.destroySession(session)

	writer := sse.NewWriter(w, r)
	if writer == nil {
		return
	}

	endpoint := fmt.Sprintf("/mcp/%s/messages?%s=%s", group, api.SessionQueryParam, sessionID)
	if !writer.Send(sse.Event{Name: "endpoint", Data: sse.RawData(endpoint)}) {
		return
	}

	logging.Info("Aggregator", "Session %s opened for group %s", sessionID, group)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-writer.Context().Done():
			logging.Debug("Aggregator", "Client for session %s disconnected", sessionID)
			return
		case <-session.Done():
			return
		case ev := <-session.Events():
			if !writer.Send(ev) {
				return
			}
		case <-keepAlive.C:
			if !writer.Send(sse.Event{Name: "ping"}) {
				return
			}
		}
	}
}

// HandleMessage handles POST /mcp/{group}/messages: the frame is
// accepted with 202 and its response travels back over the session's
// SSE stream.
func (a *Aggregator) HandleMessage(w http.ResponseWriter, r *http.Request, group string) {
	sessionID := requestSessionID(r)
	if sessionID == "" {
		api.WriteError(w, api.NewError(api.ErrInvalidRequest, "missing session id"))
		return
	}

	session, ok := a.session(sessionID)
	if !ok || session.Group != group {
		api.WriteError(w, api.NewError(api.ErrSessionNotFound, "no session %q for group %q", sessionID, group))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.WriteError(w, api.WrapError(api.ErrInvalidRequest, err, "reading request body: %v", err))
		return
	}

	w.WriteHeader(http.StatusAccepted)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		session.Dispatch(body)
	}()
}

// SessionCount reports the number of live sessions.
func (a *Aggregator) SessionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

// openSession builds the per-session MCP server and registers the
// session, replacing any previous session under the same id.
func (a *Aggregator) openSession(group, sessionID string) (*Session, error) {
	srv, err := a.newSessionServer(group, sessionID)
	if err != nil {
		return nil, err
	}

	parent := a.ctx
	if parent == nil {
		parent = context.Background()
	}
	session := newSession(parent, sessionID, group, srv)

	a.mu.Lock()
	previous := a.sessions[sessionID]
	a.sessions[sessionID] = session
	a.mu.Unlock()

	if previous != nil {
		a.destroySession(previous)
	}
	return session, nil
}

// newSessionServer mirrors the group's upstream tools into a fresh MCP
// server under their aggregated names.
func (a *Aggregator) newSessionServer(group, sessionID string) (*server.MCPServer, error) {
	tools, err := a.upstream.GetTools(group)
	if err != nil {
		return nil, err
	}

	srv := server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(true),
	)

	serverTools := make([]server.ServerTool, 0, len(tools))
	for _, tool := range tools {
		aggregated := tool
		aggregated.Name = AggregatedName(group, tool.Name)
		serverTools = append(serverTools, server.ServerTool{
			Tool:    aggregated,
			Handler: a.toolHandler(group, sessionID),
		})
	}
	srv.AddTools(serverTools...)
	return srv, nil
}

// toolHandler forwards a tools/call to the upstream manager after
// checking the aggregated name belongs to this group.
func (a *Aggregator) toolHandler(group, sessionID string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		upstreamServer, toolName, ok := SplitName(request.Params.Name)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("malformed tool name %q", request.Params.Name)), nil
		}
		if upstreamServer != group {
			return mcp.NewToolResultError(fmt.Sprintf("tool %q does not belong to group %q", request.Params.Name, group)), nil
		}
		return a.upstream.CallTool(ctx, upstreamServer, toolName, request.GetArguments(), sessionID)
	}
}

func (a *Aggregator) session(id string) (*Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[id]
	return s, ok
}

// destroySession cancels the session, forgets it, and releases any
// per-session upstream clients.
func (a *Aggregator) destroySession(s *Session) {
	s.Close()

	a.mu.Lock()
	if current, ok := a.sessions[s.ID]; ok && current == s {
		delete(a.sessions, s.ID)
	}
	a.mu.Unlock()

	a.upstream.ReleaseSession(s.ID)
	logging.Debug("Aggregator", "Session %s for group %s destroyed", s.ID, s.Group)
}

// janitor expires idle sessions to bound memory.
func (a *Aggregator) janitor() {
	defer a.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case now := <-ticker.C:
			a.sweepIdle(now)
		}
	}
}

func (a *Aggregator) sweepIdle(now time.Time) {
	a.mu.RLock()
	var expired []*Session
	for _, s := range a.sessions {
		if now.Sub(s.LastActive()) > a.idleTimeout {
			expired = append(expired, s)
		}
	}
	a.mu.RUnlock()

	for _, s := range expired {
		logging.Info("Aggregator", "Expiring idle session %s (group %s)", s.ID, s.Group)
		a.destroySession(s)
	}
}

// requestSessionID resolves the session id from the query parameter or
// the wire header, in that order.
func requestSessionID(r *http.Request) string {
	if id := r.URL.Query().Get(api.SessionQueryParam); id != "" {
		return id
	}
	return r.Header.Get(api.SessionHeader)
}
