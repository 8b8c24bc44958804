package bus

import (
	"context"
	"errors"
	"time"
)

// NewOnly is the cursor sentinel meaning "only new messages after connect".
const NewOnly = "$"

// ErrTimeout is returned by Consume when block duration elapses with no
// message available. Callers treat it as "try again", never as an operator
// error (spec.md §4.1).
var ErrTimeout = errors.New("bus: consume timeout")

// Message pairs a decoded Event with the server-assigned id a consumer
// should resume from on the next Consume call. For the in-process backend
// the id may be empty; callers must not assume it is non-empty.
type Message struct {
	Event Event
	ID    string
}

// Bus is the duplex abstraction over ordered, persistent append-only
// streams described in spec.md §4.1: strict FIFO per stream, at-least-once
// delivery per consumer cursor, and a blocking fan-read with bounded wait.
type Bus interface {
	// Publish appends event to stream and returns its assigned message id
	// (may be empty for the in-process backend).
	Publish(ctx context.Context, stream string, event Event) (string, error)

	// Consume blocks up to blockMS milliseconds for the next message after
	// lastID on stream. It returns ErrTimeout (not a transport error) when
	// none arrives in time. A transport failure is returned as-is; callers
	// retry with the same lastID, which is safe because cursors are
	// client-held (spec.md §4.1's failure policy).
	Consume(ctx context.Context, stream string, lastID string, blockMS int) (Message, error)

	// Close releases the bus connection.
	Close() error
}

func blockDuration(blockMS int) time.Duration {
	if blockMS <= 0 {
		blockMS = 1000
	}
	return time.Duration(blockMS) * time.Millisecond
}
