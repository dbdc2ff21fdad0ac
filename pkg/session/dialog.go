package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/codeready-toolchain/taskstream/pkg/metrics"
	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/queue"
	"github.com/google/uuid"
)

// Broker issues dialog requests and resolves them against client answers.
//
// The pending table maps dialog id → one-shot waiter. Entries are inserted
// only if absent (Ask) and removed only if present (Resolve, Ask's deferred
// cleanup, Close), so every request leaves the table exactly once.
type Broker struct {
	mu       sync.Mutex
	pending  map[string]chan protocol.DialogResponse
	closed   bool
	requests *queue.FIFO[protocol.DialogRequest]
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		pending:  make(map[string]chan protocol.DialogResponse),
		requests: queue.NewFIFO[protocol.DialogRequest](),
	}
}

// Ask publishes req and blocks until a matching answer arrives via Resolve
// or ctx is cancelled. A blank DialogID is replaced with a fresh one.
//
// On cancellation the returned error wraps both ErrDialogCancelled and
// ctx.Err(), so callers can propagate it as cooperative cancellation.
func (b *Broker) Ask(ctx context.Context, req protocol.DialogRequest) (protocol.DialogResponse, error) {
	if strings.TrimSpace(req.DialogID) == "" {
		req.DialogID = newDialogID()
	}

	waiter := make(chan protocol.DialogResponse, 1)
	if err := b.add(req.DialogID, waiter); err != nil {
		return protocol.DialogResponse{}, err
	}
	defer b.remove(req.DialogID, waiter)

	if !b.requests.Push(req) {
		return protocol.DialogResponse{}, fmt.Errorf("%w: %w", ErrDialogCancelled, ErrBrokerClosed)
	}

	select {
	case resp, ok := <-waiter:
		if !ok {
			return protocol.DialogResponse{}, fmt.Errorf("%w: %w", ErrDialogCancelled, ErrBrokerClosed)
		}
		return resp, nil
	case <-ctx.Done():
		// Leave the table first so the dialog feeder stops forwarding this
		// request. An answer that raced with cancellation still wins.
		b.remove(req.DialogID, waiter)
		select {
		case resp, ok := <-waiter:
			if ok {
				return resp, nil
			}
		default:
		}
		metrics.RecordDialog("cancelled")
		return protocol.DialogResponse{}, fmt.Errorf("%w: %w", ErrDialogCancelled, ctx.Err())
	}
}

// Resolve delivers resp to the waiter with the same dialog id. Unknown ids
// (late, duplicate or already-cancelled answers) are ignored; the return
// value reports whether a waiter was woken.
func (b *Broker) Resolve(resp protocol.DialogResponse) bool {
	b.mu.Lock()
	waiter, ok := b.pending[resp.DialogID]
	if ok {
		delete(b.pending, resp.DialogID)
		metrics.DialogsPending.Dec()
	}
	b.mu.Unlock()

	if !ok {
		slog.Debug("Ignoring answer for unknown dialog", "dialog_id", resp.DialogID)
		metrics.RecordDialog("stale")
		return false
	}
	waiter <- resp
	metrics.RecordDialog("answered")
	return true
}

// IsPending reports whether id is awaiting an answer.
func (b *Broker) IsPending(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[id]
	return ok
}

// Pending returns the number of dialogs awaiting an answer.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// NextRequest blocks until a published request is available. It returns
// queue.ErrClosed once the broker is closed and the feed is drained.
func (b *Broker) NextRequest(ctx context.Context) (protocol.DialogRequest, error) {
	return b.requests.Pop(ctx)
}

// Close rejects new dialogs and wakes every remaining waiter with
// ErrBrokerClosed, leaving the pending table empty.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	for id, waiter := range b.pending {
		delete(b.pending, id)
		metrics.DialogsPending.Dec()
		close(waiter)
	}
	b.mu.Unlock()
	b.requests.Close()
}

func (b *Broker) add(id string, waiter chan protocol.DialogResponse) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: %w", ErrDialogCancelled, ErrBrokerClosed)
	}
	if _, exists := b.pending[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDialogID, id)
	}
	b.pending[id] = waiter
	metrics.DialogsPending.Inc()
	return nil
}

// remove deletes id only while it still maps to waiter, so a finished Ask
// never evicts a later request that reused the id.
func (b *Broker) remove(id string, waiter chan protocol.DialogResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.pending[id]; ok && current == waiter {
		delete(b.pending, id)
		metrics.DialogsPending.Dec()
	}
}

// newDialogID returns a 32-char hex id.
func newDialogID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
