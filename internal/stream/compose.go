package stream

import (
	"context"

	"switchboard/internal/sse"
)

// Stage transforms one event stream into another. The returned channel
// closes once the input is exhausted and any asynchronous work the
// stage started has drained, which lets a stage outlive its input.
type Stage func(ctx context.Context, in <-chan sse.Event) <-chan sse.Event

// Compose chains handlers left to right: each receives the previous
// one's output. A handler dropping the event (nil result) ends the
// chain for that event; synthesized events go through the shared sink.
func Compose(handlers ...Handler) Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return func(ctx context.Context, ev sse.Event, sink Sink) (*sse.Event, error) {
		current := &ev
		for _, h := range handlers {
			result, err := h(ctx, *current, sink)
			if err != nil {
				return nil, err
			}
			if result == nil {
				return nil, nil
			}
			current = result
		}
		return current, nil
	}
}
