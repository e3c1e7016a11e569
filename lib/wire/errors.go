package wire

import "errors"

// ErrClosed is returned when the peer closed the connection mid-exchange.
var ErrClosed = errors.New("wire: connection closed by peer")

// ErrTimeout is returned when a configured timeout elapses before the
// requested bytes are available.
var ErrTimeout = errors.New("wire: timeout")

// ErrFrameTooLarge is returned when a declared frame size exceeds the
// endpoint's MaxPayloadBytes. Treat this as a protocol violation: log
// and abandon the connection, never retry with the same size.
var ErrFrameTooLarge = errors.New("wire: frame size exceeds maximum")
