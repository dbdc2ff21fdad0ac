// Package session implements the task-session multiplexer: one controller
// per client stream owns a single task body, fans its dialogs, events and
// progress into one ordered outbound sequence written by a single goroutine,
// correlates dialog answers, and shuts everything down deterministically.
package session

import (
	"context"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateClosed   State = "closed"
)

// Stream is an ordered, reliable, bidirectional message stream as seen by
// the server. Transports implement it; the controller is its only user.
//
// Recv is called from one goroutine and Send from another (the single
// writer); implementations need not support concurrent Sends. Recv returns
// io.EOF when the client half-closes.
type Stream interface {
	Recv(ctx context.Context) (*protocol.Request, error)
	Send(ctx context.Context, resp *protocol.Response) error
}

// RunRecord is the history entry written when a task finishes.
type RunRecord struct {
	SessionID  string
	TaskID     string
	TaskType   string
	Outcome    Outcome
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
	Events     []protocol.Event
}

// Recorder persists finished runs. Implementations must be safe for
// concurrent use; failures are logged and never affect the session.
type Recorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

// Options configures controllers created by a Manager.
type Options struct {
	// DefaultTaskType is used when StartTask carries a blank task type.
	DefaultTaskType string

	// ProgressMaxPerSecond caps how often progress frames are written.
	// Zero means unlimited.
	ProgressMaxPerSecond float64

	// ShutdownTimeout bounds how long teardown waits for the task body
	// and the feeders before abandoning undelivered frames.
	ShutdownTimeout time.Duration

	// Recorder, when set, receives a RunRecord for every finished task.
	Recorder Recorder

	// MaxRecordedEvents caps the events kept for the RunRecord.
	MaxRecordedEvents int
}

// DefaultOptions returns the built-in session defaults.
func DefaultOptions() Options {
	return Options{
		DefaultTaskType:   "backup",
		ShutdownTimeout:   10 * time.Second,
		MaxRecordedEvents: 1000,
	}
}

// Info is a read-only snapshot of a live session.
type Info struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id,omitempty"`
	TaskType  string    `json:"task_type,omitempty"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitzero"`
}
