package aggregator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"switchboard/internal/sse"
	"switchboard/pkg/logging"
)

// sessionBuffer bounds the queue of outbound frames per session. A slow
// SSE reader backpressures JSON-RPC dispatch instead of growing memory.
const sessionBuffer = 16

// Session is one downstream MCP connection: a dedicated in-process MCP
// server plus the SSE channel its responses travel over.
type Session struct {
	ID    string
	Group string

	mcp *server.MCPServer
	out chan sse.Event

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	lastActive time.Time

	closeOnce sync.Once
}

func newSession(parent context.Context, id, group string, srv *server.MCPServer) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:         id,
		Group:      group,
		mcp:        srv,
		out:        make(chan sse.Event, sessionBuffer),
		ctx:        ctx,
		cancel:     cancel,
		lastActive: time.Now(),
	}
}

// Touch records client activity for idle expiry.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the time of the most recent client activity.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Events is the stream of outbound SSE frames for this session.
func (s *Session) Events() <-chan sse.Event { return s.out }

// Done is closed when the session has been destroyed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Close cancels the session and every call dispatched under it.
func (s *Session) Close() {
	s.closeOnce.Do(s.cancel)
}

// Dispatch runs one JSON-RPC frame through the session's MCP server and
// queues the response, if any, onto the SSE stream. Notifications
// produce no response frame.
func (s *Session) Dispatch(raw json.RawMessage) {
	s.Touch()

	response := s.mcp.HandleMessage(s.ctx, raw)
	if response == nil {
		return
	}

	payload, err := json.Marshal(response)
	if err != nil {
		logging.Error("Aggregator", err, "Failed to marshal JSON-RPC response for session %s", s.ID)
		return
	}

	s.send(sse.Event{Name: "message", Data: sse.RawData(string(payload))})
}

// send queues one frame, giving up when the session closes first.
func (s *Session) send(ev sse.Event) bool {
	select {
	case s.out <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}
