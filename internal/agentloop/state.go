package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/internal/sse"
	"switchboard/internal/stream"
	"switchboard/pkg/logging"
)

// toolCall tracks one tool_use block from capture through execution.
type toolCall struct {
	index   int
	id      string
	name    string
	partial strings.Builder

	input   map[string]interface{}
	content string
	isError bool
}

// state is the per-stream interception machine. It starts transparent,
// captures tool_use blocks by index, runs handlers async, and issues
// the continuation once the turn ends and every handler finished.
type state struct {
	loop      *Loop
	dispatch  api.Dispatcher
	header    http.Header
	sessionID string

	ctx  context.Context
	sink *chanSink
	wg   sync.WaitGroup

	mu         sync.Mutex
	body       map[string]interface{}
	capturing  map[int]*toolCall
	finished   []*toolCall
	pending    int
	deltaSeen  bool
	continuing bool
	round      int
}

func newState(l *Loop, req *api.MessagesRequest, dispatch api.Dispatcher) *state {
	return &state{
		loop:      l,
		dispatch:  dispatch,
		header:    req.Header,
		sessionID: req.SessionID,
		body:      req.Body,
		capturing: make(map[int]*toolCall),
	}
}

// stage pumps the upstream events through the state machine into a
// fresh output channel. Every event is forwarded unchanged;
// interception only adds events. The output stays open after the input
// ends until every tool handler and continuation has finished.
func (s *state) stage(ctx context.Context, in <-chan sse.Event) <-chan sse.Event {
	s.ctx = ctx
	s.sink = newChanSink(ctx, stream.DefaultBuffer)

	go func() {
		defer s.sink.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					s.wg.Wait()
					return
				}
				after := s.processEvent(ev, s.sink)
				if !s.sink.Enqueue(ev) {
					return
				}
				if after != nil {
					after()
				}
			}
		}
	}()

	return s.sink.Events()
}

// processEvent advances the state machine for one event. It is shared
// between the primary stream and continuation streams. Work that may
// synthesize events (tool execution, continuation) is returned as a
// deferred action the caller runs after forwarding the event, so a
// tool's result can never reach the client before the block_stop that
// triggered it.
func (s *state) processEvent(ev sse.Event, sink stream.Sink) func() {
	switch eventType(ev) {
	case "content_block_start":
		s.onBlockStart(ev)
	case "content_block_delta":
		s.onBlockDelta(ev)
	case "content_block_stop":
		return s.onBlockStop(ev, sink)
	case "message_delta":
		s.mu.Lock()
		s.deltaSeen = true
		s.mu.Unlock()
		return func() { s.maybeContinue(sink) }
	}
	return nil
}

func (s *state) onBlockStart(ev sse.Event) {
	obj := ev.Data.Object()
	if obj == nil {
		return
	}
	block, _ := obj["content_block"].(map[string]interface{})
	if block == nil || block["type"] != "tool_use" {
		return
	}
	name, _ := block["name"].(string)
	if _, bound := s.loop.registry.Get(name); !bound {
		return
	}
	id, _ := block["id"].(string)
	index := intField(obj, "index")

	s.mu.Lock()
	s.capturing[index] = &toolCall{index: index, id: id, name: name}
	s.mu.Unlock()
}

func (s *state) onBlockDelta(ev sse.Event) {
	obj := ev.Data.Object()
	if obj == nil {
		return
	}
	delta, _ := obj["delta"].(map[string]interface{})
	if delta == nil || delta["type"] != "input_json_delta" {
		return
	}
	partial, _ := delta["partial_json"].(string)
	index := intField(obj, "index")

	s.mu.Lock()
	if call, ok := s.capturing[index]; ok {
		call.partial.WriteString(partial)
	}
	s.mu.Unlock()
}

func (s *state) onBlockStop(ev sse.Event, sink stream.Sink) func() {
	obj := ev.Data.Object()
	if obj == nil {
		return nil
	}
	index := intField(obj, "index")

	s.mu.Lock()
	call, ok := s.capturing[index]
	if ok {
		delete(s.capturing, index)
		s.finished = append(s.finished, call)
		s.pending++
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return func() {
		s.wg.Add(1)
		go s.execute(call, sink)
	}
}

// execute runs one tool handler and reports its outcome. It runs off
// the pump goroutine so slow tools never stall event passthrough.
func (s *state) execute(call *toolCall, sink stream.Sink) {
	defer s.wg.Done()

	args, err := ParseToolArgs(call.partial.String())
	var result interface{}
	if err == nil {
		call.input = args
		tool, ok := s.loop.registry.Get(call.name)
		if !ok {
			err = fmt.Errorf("tool %q is no longer registered", call.name)
		} else {
			ctx, cancel := context.WithTimeout(s.streamContext(), config.ToolHandlerTimeout)
			result, err = tool.Handler(ctx, args)
			cancel()
		}
	}
	if call.input == nil {
		call.input = map[string]interface{}{}
	}

	s.mu.Lock()
	if err != nil {
		call.isError = true
		call.content = err.Error()
	} else {
		call.content = renderResult(result)
	}
	s.pending--
	s.mu.Unlock()

	if err != nil {
		logging.Warn("AgentLoop", "Tool %s (%s) failed: %v", call.name, call.id, err)
		sink.Enqueue(sse.Event{Name: "tool:error", Data: sse.JSONData(map[string]interface{}{
			"tool_use_id": call.id,
			"tool_name":   call.name,
			"error":       err.Error(),
			"index":       call.index,
		})})
	} else {
		sink.Enqueue(sse.Event{Name: "tool:result", Data: sse.JSONData(map[string]interface{}{
			"tool_use_id": call.id,
			"tool_name":   call.name,
			"result":      result,
			"index":       call.index,
		})})
	}

	s.maybeContinue(sink)
}

// maybeContinue fires the continuation once the turn has ended, every
// handler finished, and at least one tool ran. The finished calls are
// consumed so a later round starts fresh.
func (s *state) maybeContinue(sink stream.Sink) {
	s.mu.Lock()
	ready := s.deltaSeen && s.pending == 0 && len(s.finished) > 0 && !s.continuing
	var calls []*toolCall
	if ready {
		s.continuing = true
		s.deltaSeen = false
		calls = s.finished
		s.finished = nil
	}
	s.mu.Unlock()

	if ready {
		s.wg.Add(1)
		go s.continueConversation(calls, sink)
	}
}

// continueConversation re-dispatches the conversation with the tool
// results appended and forwards the continuation stream to the client.
func (s *state) continueConversation(calls []*toolCall, sink stream.Sink) {
	defer s.wg.Done()

	s.mu.Lock()
	s.round++
	round := s.round
	s.mu.Unlock()

	if round > s.loop.maxRounds {
		logging.Warn("AgentLoop", "Continuation depth %d exceeds limit %d, stopping", round, s.loop.maxRounds)
		s.enqueueContinueError(sink, fmt.Sprintf("exceeded %d tool rounds", s.loop.maxRounds))
		return
	}

	body, err := s.continuationBody(calls)
	if err != nil {
		s.enqueueContinueError(sink, err.Error())
		return
	}

	s.mu.Lock()
	s.body = body
	s.continuing = false
	s.mu.Unlock()

	req := &api.MessagesRequest{Body: body, Header: s.header, SessionID: s.sessionID}
	result, err := s.dispatch.Dispatch(s.streamContext(), req)
	if err != nil {
		s.enqueueContinueError(sink, err.Error())
		return
	}
	if !result.Streaming() {
		s.enqueueContinueError(sink, fmt.Sprintf("continuation returned status %d without a stream", result.Status))
		return
	}
	if result.Status < 200 || result.Status >= 300 {
		drain(result.Events)
		s.enqueueContinueError(sink, fmt.Sprintf("continuation returned status %d", result.Status))
		return
	}

	for ev := range result.Events {
		// The client already has its message envelope from round zero.
		t := eventType(ev)
		if t == "message_start" || t == "message_stop" {
			continue
		}
		after := s.processEvent(ev, sink)
		if !sink.Enqueue(ev) {
			drain(result.Events)
			return
		}
		if after != nil {
			after()
		}
	}

	sink.Enqueue(sse.Event{Name: "tool:continue_complete", Data: sse.JSONData(map[string]interface{}{
		"round": round,
	})})
}

// continuationBody clones the conversation and appends the assistant's
// tool_use turn plus a user turn carrying the results.
func (s *state) continuationBody(calls []*toolCall) (map[string]interface{}, error) {
	s.mu.Lock()
	base := s.body
	s.mu.Unlock()

	body, err := cloneJSON(base)
	if err != nil {
		return nil, fmt.Errorf("cloning request body: %w", err)
	}

	assistantBlocks := make([]interface{}, 0, len(calls))
	resultBlocks := make([]interface{}, 0, len(calls))
	for _, call := range calls {
		assistantBlocks = append(assistantBlocks, map[string]interface{}{
			"type":  "tool_use",
			"id":    call.id,
			"name":  call.name,
			"input": call.input,
		})
		resultBlock := map[string]interface{}{
			"type":        "tool_result",
			"tool_use_id": call.id,
			"content":     call.content,
		}
		if call.isError {
			resultBlock["is_error"] = true
		}
		resultBlocks = append(resultBlocks, resultBlock)
	}

	messages, _ := body["messages"].([]interface{})
	messages = append(messages,
		map[string]interface{}{"role": "assistant", "content": assistantBlocks},
		map[string]interface{}{"role": "user", "content": resultBlocks},
	)
	body["messages"] = messages
	body[api.InternalContinueField] = true
	body["stream"] = true
	return body, nil
}

func (s *state) enqueueContinueError(sink stream.Sink, message string) {
	sink.Enqueue(sse.Event{Name: "tool:continue_error", Data: sse.JSONData(map[string]interface{}{
		"error": message,
	})})
}

// streamContext returns the client stream's context. It is set once
// when the stage starts, before any concurrent access.
func (s *state) streamContext() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func eventType(ev sse.Event) string {
	if ev.Name != "" {
		return ev.Name
	}
	if obj := ev.Data.Object(); obj != nil {
		t, _ := obj["type"].(string)
		return t
	}
	return ""
}

func intField(obj map[string]interface{}, key string) int {
	switch v := obj[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// renderResult flattens a tool result for the tool_result content
// field: strings pass through, everything else is JSON-encoded.
func renderResult(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func cloneJSON(m map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func drain(events <-chan sse.Event) {
	for range events {
	}
}
