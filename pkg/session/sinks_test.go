package session

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressSinkKeepsLatestOnly(t *testing.T) {
	s := NewProgressSink()
	for i := 1; i <= 100; i++ {
		s.Report(protocol.Progress{Percent: float64(i), State: protocol.ProgressStateRunning})
	}

	p, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.Percent)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "slot must be empty after a read")
}

func TestProgressSinkClampsPercent(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "negative", in: -5, want: 0},
		{name: "over", in: 250, want: 100},
		{name: "nan", in: math.NaN(), want: 0},
		{name: "in range", in: 42.5, want: 42.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSink()
			s.Report(protocol.Progress{Percent: tt.in})
			p, err := s.Next(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Percent)
		})
	}
}

func TestProgressSinkCloseDeliversFinalValue(t *testing.T) {
	s := NewProgressSink()
	s.Report(protocol.Progress{Percent: 10})
	s.Report(protocol.Progress{Percent: 100, State: protocol.ProgressStateSuccess})
	s.Close()
	s.Close()

	s.Report(protocol.Progress{Percent: 1})

	p, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.ProgressStateSuccess, p.State)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestProgressSinkWakesBlockedConsumer(t *testing.T) {
	s := NewProgressSink()
	got := make(chan protocol.Progress, 1)
	go func() {
		p, err := s.Next(context.Background())
		if err == nil {
			got <- p
		}
		close(got)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Report(protocol.Progress{Percent: 7})

	select {
	case p := <-got:
		assert.Equal(t, 7.0, p.Percent)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer was not woken")
	}
}

func TestEventSinkOrderAndTimestamps(t *testing.T) {
	s := NewEventSink()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	s.now = func() time.Time { return fixed }

	s.Info("one", WithStage("Start"))
	s.Warn("two", WithCode("W1"))
	s.Error("three")
	s.Close()
	s.Info("dropped")

	var got []protocol.Event
	for {
		e, err := s.Next(context.Background())
		if err != nil {
			assert.ErrorIs(t, err, queue.ErrClosed)
			break
		}
		got = append(got, e)
	}

	require.Len(t, got, 3)
	assert.Equal(t, protocol.Event{Timestamp: fixed.UTC(), Level: protocol.EventLevelInfo, Message: "one", Stage: "Start"}, got[0])
	assert.Equal(t, protocol.EventLevelWarn, got[1].Level)
	assert.Equal(t, "W1", got[1].Code)
	assert.Equal(t, protocol.EventLevelError, got[2].Level)
	assert.Equal(t, time.UTC, got[2].Timestamp.Location())
}

func TestEventSinkEmitAfterClose(t *testing.T) {
	s := NewEventSink()
	s.Close()
	assert.False(t, s.Emit(protocol.Event{Message: "late"}))
}
