// Package queue provides the non-blocking in-memory queues that connect
// producers (task bodies, the command dispatcher) to the single consumers
// that drain them (feeders, the outbound writer, the client dialog worker).
package queue

import "errors"

// ErrClosed is returned by Pop once a queue is closed and fully drained.
var ErrClosed = errors.New("queue closed")
