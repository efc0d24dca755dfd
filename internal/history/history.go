// Package history keeps a bounded in-memory log of recent request
// summaries per session. It is a debugging aid, not a datastore: the
// log lives for the process lifetime and old entries fall off silently.
package history

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"switchboard/internal/usage"
	"switchboard/pkg/logging"
)

// DefaultSessionCapacity bounds the number of sessions tracked.
const DefaultSessionCapacity = 1024

// DefaultEntriesPerSession bounds the ring kept for each session.
const DefaultEntriesPerSession = 64

// Entry summarizes one completed messages request.
type Entry struct {
	Model      string       `json:"model"`
	Status     int          `json:"status"`
	Streaming  bool         `json:"streaming"`
	StopReason string       `json:"stop_reason,omitempty"`
	Usage      usage.Record `json:"usage"`
	ReceivedAt time.Time    `json:"received_at"`
	Duration   float64      `json:"duration_ms"`
}

// Log maps session ids to their recent request entries. Sessions are
// evicted least-recently-used; entries within a session are a fixed
// ring, oldest dropped first.
type Log struct {
	sessions   *lru.Cache[string, *ring]
	perSession int
}

// NewLog creates a log bounded to sessionCapacity sessions of
// entriesPerSession entries each. Non-positive bounds use the defaults.
func NewLog(sessionCapacity, entriesPerSession int) *Log {
	if sessionCapacity <= 0 {
		sessionCapacity = DefaultSessionCapacity
	}
	if entriesPerSession <= 0 {
		entriesPerSession = DefaultEntriesPerSession
	}
	sessions, err := lru.New[string, *ring](sessionCapacity)
	if err != nil {
		logging.Error("History", err, "Failed to create session LRU")
		panic(err)
	}
	return &Log{sessions: sessions, perSession: entriesPerSession}
}

// Append records one entry for the session. Requests without a session
// id are not tracked.
func (l *Log) Append(sessionID string, e Entry) {
	if sessionID == "" {
		return
	}
	r, ok := l.sessions.Get(sessionID)
	if !ok {
		r = newRing(l.perSession)
		// A concurrent Append for the same fresh session may race this
		// add; PeekOrAdd keeps whichever ring landed first.
		if prev, found, _ := l.sessions.PeekOrAdd(sessionID, r); found {
			r = prev
		}
	}
	r.push(e)
}

// Session returns the session's entries, oldest first. A session that
// was never seen (or already evicted) yields an empty slice.
func (l *Log) Session(sessionID string) []Entry {
	r, ok := l.sessions.Get(sessionID)
	if !ok {
		return []Entry{}
	}
	return r.snapshot()
}

// SessionCount returns the number of sessions currently tracked.
func (l *Log) SessionCount() int {
	return l.sessions.Len()
}

// ring is a fixed-size overwrite-oldest buffer of entries.
type ring struct {
	mu   sync.Mutex
	buf  []Entry
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]Entry, size)}
}

func (r *ring) push(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Entry{}, r.buf[:r.next]...)
	}
	out := make([]Entry, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
