// Package transport implements the duplex message transport adapter from
// spec.md §4.F: a small interface any connected-peer medium can satisfy,
// plus a concrete gorilla/websocket implementation.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send/Receive once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// ErrBackpressure is returned by Send when the outbound path cannot keep
// up and the caller must decide whether to drop or disconnect rather than
// block indefinitely (spec.md §5 backpressure-surfacing requirement).
var ErrBackpressure = errors.New("transport: backpressure")

// Transport is the duplex byte-message channel between the coordination
// point and one connected peer. Implementations MUST make Send
// non-blocking with respect to a slow reader: a full outbound buffer
// returns ErrBackpressure rather than stalling the caller's goroutine.
type Transport interface {
	// Send enqueues msg for delivery. Returns ErrBackpressure if the
	// outbound path is saturated, ErrClosed if the transport is closed.
	Send(msg []byte) error

	// Receive blocks until a message arrives, ctx is cancelled, or the
	// transport closes (returning ErrClosed).
	Receive(ctx context.Context) ([]byte, error)

	// Close tears down the underlying connection. Idempotent.
	Close() error
}
