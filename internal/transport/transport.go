// Package transport carries named events over a persistent socket
// connection. Delivery is at-least-once; reconnect handling belongs to
// the process supervising the transport, not to this package.
package transport

import "errors"

var (
	ErrNotConnected   = errors.New("transport: not connected")
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

// SocketTransport is the bidirectional channel the sync engine speaks
// over. Emit queues an outbound event without blocking; Events yields
// inbound events in the order the server delivered them.
type SocketTransport interface {
	Emit(evt Event) error
	Events() <-chan Event
	Connected() bool
	Close() error
}
