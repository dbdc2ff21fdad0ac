package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
)

// Task is the pluggable unit of work run by a session.
//
// Run must treat ctx as cooperative cancellation: check it between steps
// and return its error (or an error wrapping it) instead of swallowing it.
// Returning ErrTaskCancelled ends the task as Cancelled without ctx having
// fired, e.g. when the user declines a confirmation.
type Task interface {
	Run(ctx context.Context, tc *TaskContext) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, tc *TaskContext) error

// Run calls f(ctx, tc).
func (f TaskFunc) Run(ctx context.Context, tc *TaskContext) error {
	return f(ctx, tc)
}

// Factory builds a Task for a StartTask command.
type Factory func(req protocol.StartTask) (Task, error)

// Registry maps task types to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for taskType.
func (r *Registry) Register(taskType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[taskType] = f
}

// New builds the task named by req.TaskType.
func (r *Registry) New(req protocol.StartTask) (Task, error) {
	r.mu.RLock()
	f, ok := r.factories[req.TaskType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, req.TaskType)
	}
	return f(req)
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// TaskContext is the capability set handed to a running task: progress,
// events and dialogs. It never writes to the transport directly.
type TaskContext struct {
	taskID   string
	req      protocol.StartTask
	events   *EventSink
	progress *ProgressSink
	broker   *Broker
}

// NewTaskContext wires a task to the given sinks and broker.
func NewTaskContext(taskID string, req protocol.StartTask, events *EventSink, progress *ProgressSink, broker *Broker) *TaskContext {
	return &TaskContext{
		taskID:   taskID,
		req:      req,
		events:   events,
		progress: progress,
		broker:   broker,
	}
}

// TaskID returns the client-visible task identifier.
func (tc *TaskContext) TaskID() string { return tc.taskID }

// Request returns the StartTask parameters the task was started with.
func (tc *TaskContext) Request() protocol.StartTask { return tc.req }

// ReportProgress publishes a progress snapshot (latest value wins).
func (tc *TaskContext) ReportProgress(p protocol.Progress) {
	tc.progress.Report(p)
}

// Progress is shorthand for reporting only percent and state.
func (tc *TaskContext) Progress(percent float64, state protocol.ProgressState) {
	tc.progress.Report(protocol.Progress{Percent: percent, State: state})
}

// Info emits an info event.
func (tc *TaskContext) Info(msg string, opts ...EventOption) { tc.events.Info(msg, opts...) }

// Warn emits a warn event.
func (tc *TaskContext) Warn(msg string, opts ...EventOption) { tc.events.Warn(msg, opts...) }

// Error emits an error event.
func (tc *TaskContext) Error(msg string, opts ...EventOption) { tc.events.Error(msg, opts...) }

// Ask sends a dialog to the client and blocks until it is answered or ctx
// is cancelled.
func (tc *TaskContext) Ask(ctx context.Context, req protocol.DialogRequest) (protocol.DialogResponse, error) {
	return tc.broker.Ask(ctx, req)
}

// Confirm asks a confirm-style question with a fresh dialog id.
func (tc *TaskContext) Confirm(ctx context.Context, title, message string) (protocol.DialogResponse, error) {
	return tc.broker.Ask(ctx, protocol.DialogRequest{
		Kind:    protocol.DialogKindConfirm,
		Title:   title,
		Message: message,
	})
}

// Outcome is the terminal classification of a task run.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeCancelled
	OutcomeError
)

// String returns the outcome as used in logs, metrics and history.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancel"
	default:
		return "error"
	}
}

// FinishCode maps the outcome to its wire code.
func (o Outcome) FinishCode() protocol.FinishCode {
	switch o {
	case OutcomeSuccess:
		return protocol.FinishCodeSuccess
	case OutcomeCancelled:
		return protocol.FinishCodeCancel
	default:
		return protocol.FinishCodeError
	}
}

// FinalProgress is the snapshot reported when a task ends with o.
func (o Outcome) FinalProgress() protocol.Progress {
	switch o {
	case OutcomeSuccess:
		return protocol.Progress{Percent: 100, State: protocol.ProgressStateSuccess}
	case OutcomeCancelled:
		return protocol.Progress{Percent: 0, State: protocol.ProgressStateCancel}
	default:
		return protocol.Progress{Percent: 0, State: protocol.ProgressStateError}
	}
}

// IsCancellation reports whether err is cooperative cancellation rather
// than a task fault.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrTaskCancelled) ||
		errors.Is(err, ErrDialogCancelled)
}

// RunTask runs t and classifies the result. Panics are recovered and
// reported as OutcomeError. Lifecycle events are emitted on tc.
func RunTask(ctx context.Context, taskType string, t Task, tc *TaskContext) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{TaskType: taskType, Panic: r}
			tc.Error(fmt.Sprintf("Task error: %v", r), WithStage("Run"))
			outcome = OutcomeError
		}
	}()

	tc.Info("Task entering run", WithStage("Run"))
	runErr := t.Run(ctx, tc)
	switch {
	case runErr == nil:
		tc.Info("Task completed", WithStage("Run"))
		return OutcomeSuccess, nil
	case IsCancellation(runErr):
		tc.Warn("Task canceled", WithStage("Run"))
		return OutcomeCancelled, runErr
	default:
		tc.Error("Task error: "+strings.TrimSpace(runErr.Error()), WithStage("Run"))
		return OutcomeError, &TaskError{TaskType: taskType, Err: runErr}
	}
}
