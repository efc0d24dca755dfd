package server

import (
	"net/http"
	"time"

	"switchboard/internal/api"
	"switchboard/internal/history"
	"switchboard/internal/router"
	"switchboard/internal/sse"
	"switchboard/pkg/logging"
)

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var body map[string]interface{}
	if err := decodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}

	req := &api.MessagesRequest{
		Body:      body,
		Header:    r.Header,
		SessionID: requestSessionID(r, body),
	}

	result, err := s.opts.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		api.WriteError(w, err)
		s.record(req, started, api.AsError(err).HTTPStatus(), false)
		return
	}

	if !result.Streaming() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(result.Status)
		if _, err := w.Write(result.Body); err != nil {
			logging.Debug("Server", "Client went away mid-response: %v", err)
		}
		s.record(req, started, result.Status, false)
		return
	}

	writer := sse.NewWriter(w, r)
	if writer == nil {
		for range result.Events {
		}
		return
	}
	for ev := range result.Events {
		if !writer.Send(ev) {
			// The client disconnected; drain so the pipeline unblocks.
			for range result.Events {
			}
			break
		}
	}
	s.record(req, started, result.Status, true)
}

func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := decodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"input_tokens": router.EstimateTokens(body),
	})
}

// record appends a request summary to the session's history ring.
func (s *Server) record(req *api.MessagesRequest, started time.Time, status int, streaming bool) {
	if s.opts.History == nil || req.SessionID == "" {
		return
	}
	entry := history.Entry{
		Model:      req.Model(),
		Status:     status,
		Streaming:  streaming,
		ReceivedAt: started,
		Duration:   float64(time.Since(started).Milliseconds()),
	}
	if s.opts.Usage != nil {
		if rec, ok := s.opts.Usage.Get(req.SessionID); ok {
			entry.Usage = rec
		}
	}
	s.opts.History.Append(req.SessionID, entry)
}

// requestSessionID reads the session id from the wire header, its
// query-string equivalent, or a body field, in that order.
func requestSessionID(r *http.Request, body map[string]interface{}) string {
	if id := r.Header.Get(api.SessionHeader); id != "" {
		return id
	}
	if id := r.URL.Query().Get(api.SessionQueryParam); id != "" {
		return id
	}
	id, _ := body[api.SessionBodyField].(string)
	return id
}
