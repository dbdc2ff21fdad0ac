package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/metrics"
	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/queue"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// recordTimeout bounds how long a finished run may spend in the Recorder.
const recordTimeout = 5 * time.Second

// Controller owns one client stream: the single task body, the three
// feeders (dialogs, events, progress), the single outbound writer and the
// session state machine Idle → Running → Draining → Closed.
//
// Only the writer goroutine calls Stream.Send. Everything else, the command
// dispatcher included, enqueues onto the outbox, so inbound processing and
// the task body never block on the transport.
type Controller struct {
	id        string
	registry  *Registry
	opts      Options
	log       *slog.Logger
	createdAt time.Time

	events   *EventSink
	progress *ProgressSink
	broker   *Broker
	outbox   *queue.FIFO[*protocol.Response]

	served   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once

	mu        sync.RWMutex
	state     State
	taskID    string
	taskType  string
	startedAt time.Time
	outcome   *Outcome

	// eventLog is written only by the event feeder and read after it is joined.
	eventLog []protocol.Event
}

type taskResult struct {
	outcome Outcome
	err     error
}

// NewController creates a controller for one stream. Serve may be called once.
func NewController(registry *Registry, opts Options) *Controller {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultOptions().ShutdownTimeout
	}
	id := uuid.New().String()
	return &Controller{
		id:        id,
		registry:  registry,
		opts:      opts,
		log:       slog.With("session_id", id),
		createdAt: time.Now(),
		events:    NewEventSink(),
		progress:  NewProgressSink(),
		broker:    NewBroker(),
		outbox:    queue.NewFIFO[*protocol.Response](),
		stop:      make(chan struct{}),
		state:     StateIdle,
		taskID:    protocol.DefaultTaskID,
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Outcome returns the task outcome once the task has finished.
func (c *Controller) Outcome() (Outcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.outcome == nil {
		return 0, false
	}
	return *c.outcome, true
}

// PendingDialogs returns the number of dialogs awaiting an answer.
func (c *Controller) PendingDialogs() int { return c.broker.Pending() }

// Info returns a snapshot for listing.
func (c *Controller) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := Info{
		ID:        c.id,
		State:     c.state,
		CreatedAt: c.createdAt,
		StartedAt: c.startedAt,
	}
	if !c.startedAt.IsZero() {
		info.TaskID = c.taskID
		info.TaskType = c.taskType
	}
	return info
}

// Cancel ends the session as if the transport had gone away: the task is
// cancelled and the session drains. Safe to call at any time.
func (c *Controller) Cancel() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Serve runs the session on stream until the client closes it, the
// transport fails, the session is cancelled, or the task body returns.
// It returns after every goroutine it owns has stopped, except the reader,
// which exits once the transport unblocks Recv.
func (c *Controller) Serve(ctx context.Context, stream Stream) error {
	if !c.served.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()
	defer func() { metrics.ObserveSessionDuration(time.Since(c.createdAt)) }()

	c.log.Info("Session opened")

	// Session scope: transport context, admin cancel, transport failures.
	sessCtx, sessCancel := context.WithCancel(ctx)
	defer sessCancel()
	// Task scope: everything that fires the session, plus StopTask. This is
	// the one signal the task body and its dialogs observe.
	taskCtx, taskCancel := context.WithCancel(sessCtx)
	defer taskCancel()
	// Drain scope outlives both so queued frames still reach the client
	// during teardown; it is cut only when ShutdownTimeout expires.
	drainCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()

	var writer errgroup.Group
	writer.Go(func() error { return c.writeLoop(drainCtx, stream, sessCancel) })

	var feeders errgroup.Group
	feeders.Go(func() error { return c.dialogFeed(drainCtx) })
	feeders.Go(func() error { return c.eventFeed(drainCtx) })
	feeders.Go(func() error { return c.progressFeed(drainCtx) })

	commands := make(chan *protocol.Request)
	readErr := make(chan error, 1)
	loopDone := make(chan struct{})
	go c.readLoop(ctx, stream, commands, readErr, loopDone)

	var (
		taskDone chan taskResult
		res      taskResult
		returned bool
	)
loop:
	for {
		select {
		case req := <-commands:
			c.dispatch(taskCtx, taskCancel, req, &taskDone)
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				c.log.Info("Client closed stream")
			} else {
				c.log.Warn("Stream read failed", "error", err)
			}
			break loop
		case res = <-taskDone:
			returned = true
			break loop
		case <-sessCtx.Done():
			c.log.Info("Session context ended", "reason", context.Cause(sessCtx))
			break loop
		case <-c.stop:
			c.log.Info("Session cancelled")
			break loop
		}
	}
	close(loopDone)
	c.setState(StateDraining)

	// 1. Task scope first, then the session, so blocked Asks and
	// cooperative checks in the task body unblock.
	taskCancel()
	sessCancel()

	// 2. Await the task body. A body that ignores cancellation is abandoned
	// and reported as an error; its late emissions hit closed sinks.
	if taskDone != nil && !returned {
		wait := time.NewTimer(c.opts.ShutdownTimeout)
		select {
		case res = <-taskDone:
		case <-wait.C:
			res = taskResult{
				outcome: OutcomeError,
				err: &TaskError{
					TaskType: c.taskType,
					Err:      fmt.Errorf("task did not stop within %s", c.opts.ShutdownTimeout),
				},
			}
			c.log.Error("Task body ignored cancellation", "timeout", c.opts.ShutdownTimeout)
		}
		wait.Stop()
	}

	deadline := time.AfterFunc(c.opts.ShutdownTimeout, abandon)
	defer deadline.Stop()

	// 3. Final progress reflecting the outcome, then close every sink.
	if taskDone != nil {
		c.progress.Report(res.outcome.FinalProgress())
	}
	c.events.Close()
	c.progress.Close()
	c.broker.Close()

	// 4. Join the feeders; they drain whatever the sinks still hold.
	if err := feeders.Wait(); err != nil {
		c.log.Warn("Feeder stopped before draining", "error", err)
	}

	// 5. No feeder can enqueue any more, so Finished is provably last.
	if taskDone != nil {
		c.outbox.Push(protocol.NewFinished(c.currentTaskID(), res.outcome.FinishCode(),
			"Finished with "+res.outcome.String()))
	}
	c.outbox.Close()

	// 6. The writer is joined last.
	if err := writer.Wait(); err != nil {
		c.log.Warn("Writer abandoned undelivered frames", "error", err)
	}
	c.setState(StateClosed)

	if taskDone != nil {
		c.finish(ctx, res)
	}
	c.log.Info("Session closed")
	return nil
}

// readLoop is the only caller of stream.Recv. Commands are handed to the
// dispatcher in arrival order.
func (c *Controller) readLoop(ctx context.Context, stream Stream, commands chan<- *protocol.Request, readErr chan<- error, done <-chan struct{}) {
	for {
		req, err := stream.Recv(ctx)
		if err != nil {
			readErr <- err
			return
		}
		select {
		case commands <- req:
		case <-done:
			return
		}
	}
}

// dispatch handles one inbound command. It runs on the Serve goroutine only
// and is the single place that decides whether a task is running.
func (c *Controller) dispatch(taskCtx context.Context, cancelTask context.CancelFunc, req *protocol.Request, taskDone *chan taskResult) {
	if err := req.Validate(); err != nil {
		c.log.Warn("Ignoring malformed request", "error", err)
		return
	}
	taskID := req.EffectiveTaskID()

	switch {
	case req.StartTask != nil:
		c.handleStart(taskCtx, taskID, *req.StartTask, taskDone)

	case req.StopTask != nil:
		cancelTask()
		metrics.RecordCommand(protocol.ActionStopTask, true)
		c.log.Info("Cancel requested", "task_id", taskID)
		c.outbox.Push(protocol.NewAck(taskID, protocol.AckKindStop, true, "Cancel requested"))

	case req.DialogResponse != nil:
		resolved := c.broker.Resolve(*req.DialogResponse)
		metrics.RecordCommand(protocol.ActionDialogResponse, true)
		c.log.Debug("Dialog response received",
			"dialog_id", req.DialogResponse.DialogID,
			"result", req.DialogResponse.Result,
			"matched", resolved)
		c.outbox.Push(protocol.NewAck(taskID, protocol.AckKindDialog, true, "Dialog response received"))

	case req.Ping != nil:
		metrics.RecordCommand(protocol.ActionPing, true)
		c.outbox.Push(protocol.NewPong(taskID, req.Ping.Seq, time.Now()))
	}
}

func (c *Controller) handleStart(taskCtx context.Context, taskID string, start protocol.StartTask, taskDone *chan taskResult) {
	if *taskDone != nil {
		metrics.RecordCommand(protocol.ActionStartTask, false)
		c.outbox.Push(protocol.NewAck(taskID, protocol.AckKindStart, false, "Task already started"))
		return
	}

	start.TaskType = strings.TrimSpace(start.TaskType)
	if start.TaskType == "" {
		start.TaskType = c.opts.DefaultTaskType
	}
	task, err := c.registry.New(start)
	if err != nil {
		metrics.RecordCommand(protocol.ActionStartTask, false)
		c.log.Warn("Rejected start request", "task_type", start.TaskType, "error", err)
		msg := err.Error()
		if errors.Is(err, ErrUnknownTaskType) {
			msg = "Unknown task type: " + start.TaskType
		}
		c.outbox.Push(protocol.NewAck(taskID, protocol.AckKindStart, false, msg))
		return
	}

	metrics.RecordCommand(protocol.ActionStartTask, true)
	c.outbox.Push(protocol.NewAck(taskID, protocol.AckKindStart, true, "Task starting"))

	c.mu.Lock()
	c.state = StateRunning
	c.taskID = taskID
	c.taskType = start.TaskType
	c.startedAt = time.Now()
	c.mu.Unlock()
	c.log.Info("Task starting", "task_id", taskID, "task_type", start.TaskType)

	done := make(chan taskResult, 1)
	*taskDone = done
	tc := NewTaskContext(taskID, start, c.events, c.progress, c.broker)
	go func() {
		tc.Info("Start task_type="+start.TaskType, WithStage("Start"))
		tc.Progress(0, protocol.ProgressStateRunning)
		outcome, err := RunTask(taskCtx, start.TaskType, task, tc)
		done <- taskResult{outcome: outcome, err: err}
	}()
}

// writeLoop is the single writer: the only goroutine that touches
// stream.Send. After the first failed send it keeps draining the outbox and
// discards frames, so producers never block on a dead transport.
func (c *Controller) writeLoop(ctx context.Context, stream Stream, onFailure context.CancelFunc) error {
	var sendErr error
	for {
		msg, err := c.outbox.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
		if sendErr != nil {
			continue
		}
		if err := stream.Send(ctx, msg); err != nil {
			sendErr = err
			metrics.OutboundWriteFailuresTotal.Inc()
			c.log.Warn("Failed to write to client, discarding remaining frames", "error", err)
			onFailure()
			continue
		}
		metrics.RecordOutbound(msg.Kind())
	}
}

func (c *Controller) dialogFeed(ctx context.Context) error {
	for {
		req, err := c.broker.NextRequest(ctx)
		if err != nil {
			return feedResult(err)
		}
		// Cancelled before the feeder got to it: the answer would be stale.
		if !c.broker.IsPending(req.DialogID) {
			c.log.Debug("Dropping dialog that is no longer pending", "dialog_id", req.DialogID)
			continue
		}
		c.outbox.Push(&protocol.Response{TaskID: c.currentTaskID(), DialogRequest: &req})
	}
}

func (c *Controller) eventFeed(ctx context.Context) error {
	for {
		e, err := c.events.Next(ctx)
		if err != nil {
			return feedResult(err)
		}
		if c.opts.Recorder != nil && len(c.eventLog) < c.opts.MaxRecordedEvents {
			c.eventLog = append(c.eventLog, e)
		}
		c.outbox.Push(&protocol.Response{TaskID: c.currentTaskID(), Event: &e})
	}
}

func (c *Controller) progressFeed(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if c.opts.ProgressMaxPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.opts.ProgressMaxPerSecond), 1)
	}
	for {
		// Waiting before taking the snapshot lets the mailbox coalesce
		// everything reported while the limiter holds us back.
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		p, err := c.progress.Next(ctx)
		if err != nil {
			return feedResult(err)
		}
		c.outbox.Push(&protocol.Response{TaskID: c.currentTaskID(), Progress: &p})
	}
}

// finish records the outcome, counts it and hands the run to the Recorder.
func (c *Controller) finish(ctx context.Context, res taskResult) {
	c.mu.Lock()
	outcome := res.outcome
	c.outcome = &outcome
	rec := RunRecord{
		SessionID:  c.id,
		TaskID:     c.taskID,
		TaskType:   c.taskType,
		Outcome:    outcome,
		Message:    "Finished with " + outcome.String(),
		StartedAt:  c.startedAt,
		FinishedAt: time.Now(),
		Events:     c.eventLog,
	}
	c.mu.Unlock()

	metrics.RecordTask(rec.TaskType, outcome.String())
	log := c.log.With("task_id", rec.TaskID, "task_type", rec.TaskType)
	var taskErr *TaskError
	if errors.As(res.err, &taskErr) {
		log.Error("Task failed", "error", res.err)
		rec.Message = taskErr.Error()
	} else {
		log.Info("Task finished", "outcome", outcome.String())
	}

	if c.opts.Recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := c.opts.Recorder.RecordRun(recordCtx, rec); err != nil {
		log.Error("Failed to record task run", "error", err)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) currentTaskID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.taskID
}

// feedResult maps a sink read error to a feeder exit status: a closed,
// drained sink is a normal exit.
func feedResult(err error) error {
	if errors.Is(err, queue.ErrClosed) {
		return nil
	}
	return err
}
