// Package service implements the five pipeline services plus the
// operational MonitorService, each a single long-lived process wrapped
// around a cooperative event loop on the message bus.
package service

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepipe/internal/bus"
)

// Base gives every service the stop signal and cursor-tracking loop
// spec.md §5 describes: a `stopping` flag the main loop checks between
// iterations, no locks on shared mutable state.
type Base struct {
	Log      zerolog.Logger
	Bus      bus.Bus
	stopping atomic.Bool
}

// Stop requests the service's run loop to exit after its current
// iteration. Safe to call from any goroutine.
func (b *Base) Stop() {
	b.stopping.Store(true)
}

// Stopping reports whether Stop has been called.
func (b *Base) Stopping() bool {
	return b.stopping.Load()
}

// ConsumeLoop repeatedly calls Consume on stream starting from cursor and
// invokes handle for every message that arrives, advancing cursor as it
// goes. It returns when Stop is called or ctx is canceled. bus.ErrTimeout
// is not an error: it just means no message arrived within the block
// window, and the loop tries again immediately (spec.md §4.1).
//
// handle errors are logged and do not advance past the failed message
// only in the sense that the loop keeps going; cursor advancement happens
// unconditionally once consume succeeds, matching the at-least-once
// contract (a handler that needs stronger guarantees must be idempotent,
// per spec.md §5's shutdown note).
func ConsumeLoop(ctx context.Context, b *Base, stream, startCursor string, blockMS int, handle func(bus.Message) error) {
	cursor := startCursor
	for !b.Stopping() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := b.Bus.Consume(ctx, stream, cursor, blockMS)
		if err == bus.ErrTimeout {
			continue
		}
		if err == context.Canceled || err == context.DeadlineExceeded {
			return
		}
		if err != nil {
			b.Log.Error().Err(err).Str("stream", stream).Msg("bus consume failed, retrying with same cursor")
			continue
		}

		if err := handle(msg); err != nil {
			b.Log.Error().Err(err).Str("stream", stream).Str("event_type", msg.Event.Type).Msg("event handler failed")
		}
		if msg.ID != "" {
			cursor = msg.ID
		}
	}
}
