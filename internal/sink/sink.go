// Package sink provides the event sink abstraction the matching engine
// emits trade and order-state events through (spec §4.E). The contract:
// Emit is called in order, must accept events synchronously, and may
// block; persistent failure is the engine's caller's problem to make
// fatal (see engine.Engine's bounded retry in its Submit/Cancel path).
package sink

import "matchcore/internal/common"

// EventSink consumes the engine's event stream in emission order.
type EventSink interface {
	Emit(event common.Event) error
}

// Noop discards every event. Useful for benchmarks and tests that only
// care about book state.
type Noop struct{}

func (Noop) Emit(common.Event) error { return nil }

// Recording collects every event in memory, in emission order. Used by
// tests asserting on the exact event sequence a command produced.
type Recording struct {
	Events []common.Event
}

func (r *Recording) Emit(event common.Event) error {
	r.Events = append(r.Events, event)
	return nil
}

// Channel hands events over a buffered channel to whoever receives from
// C (e.g. the TCP transport's report-fanout goroutine). Emit
// blocks once the channel is full, which is the intended backpressure:
// a slow consumer slows the symbol's engine, never silently drops
// events.
type Channel struct {
	C chan common.Event
}

// NewChannel creates a Channel-backed sink with the given buffer depth.
func NewChannel(buffer int) *Channel {
	return &Channel{C: make(chan common.Event, buffer)}
}

func (c *Channel) Emit(event common.Event) error {
	c.C <- event
	return nil
}

// Fanout calls Emit on every sink in order, stopping at the first error
// (later sinks see nothing for that event, matching "in-order" delivery).
type Fanout []EventSink

func (f Fanout) Emit(event common.Event) error {
	for _, s := range f {
		if err := s.Emit(event); err != nil {
			return err
		}
	}
	return nil
}
