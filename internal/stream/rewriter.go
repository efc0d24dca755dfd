package stream

import (
	"context"
	"errors"
	"sync"

	"switchboard/internal/sse"
	"switchboard/pkg/logging"
)

// ErrStreamClosed signals that the downstream connection went away while a
// handler was producing output. Handlers returning an error wrapping this
// are recovered from; every other handler error tears the pipeline down.
var ErrStreamClosed = errors.New("stream prematurely closed")

// Sink lets a handler push synthesized events into the downstream out of
// band, in addition to (or instead of) its return value.
type Sink interface {
	// Enqueue appends an event to the downstream. Returns false if the
	// pipeline has already closed; the event is silently dropped then.
	Enqueue(ev sse.Event) bool
}

// Handler transforms one event. Returning a nil event drops it; returning
// a non-nil event forwards it. The sink can be used to emit additional
// events. The context is cancelled when the downstream closes.
type Handler func(ctx context.Context, ev sse.Event, sink Sink) (*sse.Event, error)

// Pipeline applies a Handler to an event stream while preserving order
// and propagating back-pressure: the output channel is bounded, so a slow
// consumer suspends upstream reads.
type Pipeline struct {
	handler Handler

	out    chan sse.Event
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	err    error
}

// DefaultBuffer is the bound on events queued toward a slow consumer.
const DefaultBuffer = 64

// NewPipeline creates a pipeline whose lifetime is bounded by ctx.
// A buffer of zero or less uses DefaultBuffer.
func NewPipeline(ctx context.Context, handler Handler, buffer int) *Pipeline {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	pctx, cancel := context.WithCancel(ctx)
	return &Pipeline{
		handler: handler,
		out:     make(chan sse.Event, buffer),
		ctx:     pctx,
		cancel:  cancel,
	}
}

// Events returns the downstream channel. It is closed when the input is
// exhausted, the pipeline is closed, or a handler error tears it down.
func (p *Pipeline) Events() <-chan sse.Event {
	return p.out
}

// Run consumes the input channel until it closes or the pipeline is torn
// down, then closes the output channel. It blocks; run it in a goroutine
// when the caller also owns the consumer side.
func (p *Pipeline) Run(in <-chan sse.Event) {
	defer p.finish()

	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if !p.process(ev) {
				return
			}
		}
	}
}

// process applies the handler to one event and forwards its result.
// Returns false when the pipeline should stop.
func (p *Pipeline) process(ev sse.Event) bool {
	result, err := p.handler(p.ctx, ev, p)
	if err != nil {
		if errors.Is(err, ErrStreamClosed) {
			logging.Debug("Stream", "Handler observed closed downstream: %v", err)
			return false
		}
		logging.Error("Stream", err, "Handler failed, tearing down stream")
		p.fail(err)
		return false
	}
	if result == nil {
		return true
	}
	return p.Enqueue(*result)
}

// Enqueue implements Sink. The send blocks while the buffer is full, which
// is what suspends upstream reads; it aborts when the pipeline closes.
// The lock is held across the send so finish cannot close the channel
// under a concurrent producer.
func (p *Pipeline) Enqueue(ev sse.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	select {
	case p.out <- ev:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Close tears the pipeline down. Safe to call multiple times; a second
// close is a no-op. In-flight handler calls see a cancelled context.
func (p *Pipeline) Close() {
	p.cancel()
}

// Err returns the handler error that tore the stream down, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	p.cancel()
}

func (p *Pipeline) finish() {
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.out)
	}
}
