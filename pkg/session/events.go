package session

import (
	"context"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/queue"
)

// EventOption customises an emitted event.
type EventOption func(*protocol.Event)

// WithStage labels an event with the task stage that produced it.
func WithStage(stage string) EventOption {
	return func(e *protocol.Event) { e.Stage = stage }
}

// WithCode attaches a machine-readable code to an event.
func WithCode(code string) EventOption {
	return func(e *protocol.Event) { e.Code = code }
}

// EventSink is an append-only, best-effort event log with a single consumer.
// Producers never block; events emitted after Close are dropped.
type EventSink struct {
	q   *queue.FIFO[protocol.Event]
	now func() time.Time
}

// NewEventSink creates an open event sink.
func NewEventSink() *EventSink {
	return &EventSink{q: queue.NewFIFO[protocol.Event](), now: time.Now}
}

// Emit appends e, stamping it with the current server time. The timestamp is
// assigned here, not by the caller, so events from different goroutines are
// ordered by when the sink accepted them.
func (s *EventSink) Emit(e protocol.Event) bool {
	e.Timestamp = s.now().UTC()
	return s.q.Push(e)
}

// Info emits an info-level event.
func (s *EventSink) Info(msg string, opts ...EventOption) {
	s.emit(protocol.EventLevelInfo, msg, opts)
}

// Warn emits a warn-level event.
func (s *EventSink) Warn(msg string, opts ...EventOption) {
	s.emit(protocol.EventLevelWarn, msg, opts)
}

// Error emits an error-level event.
func (s *EventSink) Error(msg string, opts ...EventOption) {
	s.emit(protocol.EventLevelError, msg, opts)
}

// Next blocks until the next event is available. It returns queue.ErrClosed
// once the sink is closed and drained.
func (s *EventSink) Next(ctx context.Context) (protocol.Event, error) {
	return s.q.Pop(ctx)
}

// Close stops accepting events. Already accepted events remain readable.
func (s *EventSink) Close() {
	s.q.Close()
}

func (s *EventSink) emit(level protocol.EventLevel, msg string, opts []EventOption) {
	e := protocol.Event{Level: level, Message: msg}
	for _, opt := range opts {
		opt(&e)
	}
	s.Emit(e)
}
