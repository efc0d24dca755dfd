package sse

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"switchboard/pkg/logging"
)

// Marshal serializes one event into its wire form: an optional event line,
// one data line per payload line, an optional id line, then a blank line.
func Marshal(ev Event) ([]byte, error) {
	var b strings.Builder

	if ev.Name != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Name)
	}
	if ev.HasData() {
		payload, err := ev.Data.Encode()
		if err != nil {
			return nil, fmt.Errorf("encoding event data: %w", err)
		}
		for _, line := range strings.Split(payload, "\n") {
			fmt.Fprintf(&b, "data: %s\n", line)
		}
	}
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", ev.Retry)
	}
	b.WriteString("\n")

	return []byte(b.String()), nil
}

// Writer streams events to an HTTP client. It sets the SSE response
// headers on creation, flushes after every event, and detects client
// disconnects via the request context.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
}

// NewWriter prepares SSE headers and returns a writer bound to the
// request's lifetime. Returns nil if the ResponseWriter cannot stream.
func NewWriter(w http.ResponseWriter, r *http.Request) *Writer {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Writer{w: w, flusher: flusher, ctx: r.Context()}
}

// Send serializes and writes one event. Returns false once the client has
// disconnected or the write fails.
func (s *Writer) Send(ev Event) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}

	raw, err := Marshal(ev)
	if err != nil {
		logging.Error("SSE", err, "Failed to marshal event %q", ev.Name)
		return false
	}
	if _, err := s.w.Write(raw); err != nil {
		logging.Debug("SSE", "Write failed, client likely disconnected: %v", err)
		return false
	}
	s.flusher.Flush()
	return true
}

// Context returns the client connection's context.
func (s *Writer) Context() context.Context {
	return s.ctx
}
