package stream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/sse"
)

func passthrough(_ context.Context, ev sse.Event, _ Sink) (*sse.Event, error) {
	return &ev, nil
}

func feed(events ...sse.Event) <-chan sse.Event {
	in := make(chan sse.Event, len(events))
	for _, ev := range events {
		in <- ev
	}
	close(in)
	return in
}

func collect(t *testing.T, out <-chan sse.Event) []sse.Event {
	t.Helper()
	var got []sse.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out draining pipeline")
		}
	}
}

func TestPipeline_Passthrough(t *testing.T) {
	p := NewPipeline(context.Background(), passthrough, 8)
	go p.Run(feed(
		sse.Event{Name: "a", Data: sse.RawData("1")},
		sse.Event{Name: "b", Data: sse.RawData("2")},
	))

	got := collect(t, p.Events())
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
	assert.NoError(t, p.Err())
}

func TestPipeline_HandlerDropsEvents(t *testing.T) {
	dropPings := func(_ context.Context, ev sse.Event, _ Sink) (*sse.Event, error) {
		if ev.Name == "ping" {
			return nil, nil
		}
		return &ev, nil
	}

	p := NewPipeline(context.Background(), dropPings, 8)
	go p.Run(feed(
		sse.Event{Name: "ping"},
		sse.Event{Name: "message_delta"},
		sse.Event{Name: "ping"},
	))

	got := collect(t, p.Events())
	require.Len(t, got, 1)
	assert.Equal(t, "message_delta", got[0].Name)
}

func TestPipeline_SinkInjectsSynthesizedEvents(t *testing.T) {
	handler := func(_ context.Context, ev sse.Event, sink Sink) (*sse.Event, error) {
		if ev.Name == "content_block_stop" {
			sink.Enqueue(ev)
			sink.Enqueue(sse.Event{Name: "tool:result", Data: sse.RawData("ok")})
			return nil, nil
		}
		return &ev, nil
	}

	p := NewPipeline(context.Background(), handler, 8)
	go p.Run(feed(sse.Event{Name: "content_block_stop"}))

	got := collect(t, p.Events())
	require.Len(t, got, 2)
	assert.Equal(t, "content_block_stop", got[0].Name)
	assert.Equal(t, "tool:result", got[1].Name)
}

func TestPipeline_OrderPreservedUnderLoad(t *testing.T) {
	var events []sse.Event
	for i := 0; i < 500; i++ {
		events = append(events, sse.Event{Name: "e", Data: sse.RawData(fmt.Sprintf("%d", i))})
	}

	p := NewPipeline(context.Background(), passthrough, 4)
	go p.Run(feed(events...))

	got := collect(t, p.Events())
	require.Len(t, got, 500)
	for i, ev := range got {
		raw, _ := ev.Data.Encode()
		assert.Equal(t, fmt.Sprintf("%d", i), raw)
	}
}

func TestPipeline_HandlerErrorTearsDown(t *testing.T) {
	boom := errors.New("transform exploded")
	handler := func(_ context.Context, ev sse.Event, _ Sink) (*sse.Event, error) {
		if ev.Name == "bad" {
			return nil, boom
		}
		return &ev, nil
	}

	p := NewPipeline(context.Background(), handler, 8)
	go p.Run(feed(
		sse.Event{Name: "good"},
		sse.Event{Name: "bad"},
		sse.Event{Name: "never"},
	))

	got := collect(t, p.Events())
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].Name)
	assert.ErrorIs(t, p.Err(), boom)
}

func TestPipeline_StreamClosedErrorIsRecovered(t *testing.T) {
	handler := func(_ context.Context, ev sse.Event, _ Sink) (*sse.Event, error) {
		return nil, fmt.Errorf("writing event: %w", ErrStreamClosed)
	}

	p := NewPipeline(context.Background(), handler, 8)
	go p.Run(feed(sse.Event{Name: "x"}))

	collect(t, p.Events())
	// Premature-close is not an error condition.
	assert.NoError(t, p.Err())
}

func TestPipeline_CloseIsIdempotent(t *testing.T) {
	p := NewPipeline(context.Background(), passthrough, 8)
	in := make(chan sse.Event)
	go p.Run(in)

	p.Close()
	p.Close()
	close(in)

	collect(t, p.Events())
}

func TestPipeline_EnqueueAfterCloseIsDropped(t *testing.T) {
	p := NewPipeline(context.Background(), passthrough, 8)
	go p.Run(feed())

	collect(t, p.Events())
	assert.False(t, p.Enqueue(sse.Event{Name: "late"}))
}

func TestPipeline_CancellationStopsHandler(t *testing.T) {
	started := make(chan struct{})
	handler := func(ctx context.Context, ev sse.Event, _ Sink) (*sse.Event, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	p := NewPipeline(context.Background(), handler, 8)
	in := make(chan sse.Event, 1)
	in <- sse.Event{Name: "slow"}
	go p.Run(in)

	<-started
	p.Close()

	select {
	case _, ok := <-p.Events():
		if ok {
			t.Fatal("expected closed channel after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not shut down after Close")
	}
}
