package agentloop

import (
	"context"
	"sync"

	"switchboard/internal/sse"
)

// chanSink adapts an output channel to the stream.Sink contract. The
// lock is held across the send so close cannot race a producer; an
// enqueue after close is silently dropped.
type chanSink struct {
	ctx context.Context

	mu     sync.Mutex
	ch     chan sse.Event
	closed bool
}

func newChanSink(ctx context.Context, buffer int) *chanSink {
	return &chanSink{ctx: ctx, ch: make(chan sse.Event, buffer)}
}

func (k *chanSink) Enqueue(ev sse.Event) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return false
	}
	select {
	case k.ch <- ev:
		return true
	case <-k.ctx.Done():
		return false
	}
}

func (k *chanSink) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.closed {
		k.closed = true
		close(k.ch)
	}
}

func (k *chanSink) Events() <-chan sse.Event {
	return k.ch
}
