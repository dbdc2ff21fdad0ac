package session

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/queue"
)

// ProgressSink is a single-slot mailbox holding only the most recent
// progress snapshot. Report replaces any unread value and never blocks, so
// the consumer never sees a backlog no matter how fast the task reports.
type ProgressSink struct {
	latest    atomic.Pointer[protocol.Progress]
	notify    chan struct{} // 1-buffered
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewProgressSink creates an empty open progress sink.
func NewProgressSink() *ProgressSink {
	return &ProgressSink{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Report publishes p, replacing any snapshot the consumer has not read yet.
// Percent is clamped to [0, 100]. Reports after Close are dropped.
func (s *ProgressSink) Report(p protocol.Progress) {
	if s.closed.Load() {
		return
	}
	p.Percent = clampPercent(p.Percent)
	s.latest.Store(&p)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a snapshot is available and takes it out of the slot.
// After Close, a final unread snapshot is still delivered before Next
// returns queue.ErrClosed.
func (s *ProgressSink) Next(ctx context.Context) (protocol.Progress, error) {
	for {
		if p := s.latest.Swap(nil); p != nil {
			return *p, nil
		}
		select {
		case <-s.notify:
		case <-s.done:
			if p := s.latest.Swap(nil); p != nil {
				return *p, nil
			}
			return protocol.Progress{}, queue.ErrClosed
		case <-ctx.Done():
			return protocol.Progress{}, ctx.Err()
		}
	}
}

// Close stops accepting snapshots. Safe to call more than once.
func (s *ProgressSink) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
