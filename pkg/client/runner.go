// Package client drives one task session from the client side.
//
// The read loop never blocks on user input: dialog requests are queued for a
// worker that answers them one at a time, and every outbound request goes
// through a single writer goroutine.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/queue"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrStartRejected indicates the server refused the StartTask command.
	ErrStartRejected = errors.New("start rejected")

	// ErrNoFinished indicates the stream ended before a Finished message.
	ErrNoFinished = errors.New("stream ended before task finished")
)

// Conn is a client connection to a task stream. Both transports provide one.
type Conn interface {
	Send(ctx context.Context, req *protocol.Request) error
	Recv(ctx context.Context) (*protocol.Response, error)
	Close() error
}

// Options configures a Runner.
type Options struct {
	// TaskID tags every request; blank means protocol.DefaultTaskID.
	TaskID string

	// Start is sent as the first request.
	Start protocol.StartTask

	// Dialogs answers dialog requests. Defaults to AutoAnswer(DialogResultCancel).
	Dialogs DialogHandler

	// HeartbeatInterval is the ping period. Zero disables pings.
	HeartbeatInterval time.Duration

	// OnResponse, when set, sees every response in arrival order. It runs on
	// the read loop and must not block.
	OnResponse func(*protocol.Response)
}

// Result summarises a finished session.
type Result struct {
	Code         protocol.FinishCode
	Message      string
	Events       int
	Dialogs      int
	LastProgress *protocol.Progress
	LastPongSeq  int64
}

// Runner runs one task over a Conn.
type Runner struct {
	conn Conn
	opts Options
	out  *queue.FIFO[*protocol.Request]
	seq  atomic.Int64
}

// NewRunner creates a runner for conn.
func NewRunner(conn Conn, opts Options) *Runner {
	if opts.TaskID == "" {
		opts.TaskID = protocol.DefaultTaskID
	}
	if opts.Dialogs == nil {
		opts.Dialogs = AutoAnswer(protocol.DialogResultCancel)
	}
	return &Runner{
		conn: conn,
		opts: opts,
		out:  queue.NewFIFO[*protocol.Request](),
	}
}

// Stop asks the server to cancel the task. The session still ends with
// Finished, which Run reports. Safe to call from any goroutine.
func (r *Runner) Stop() {
	r.out.Push(&protocol.Request{TaskID: r.opts.TaskID, StopTask: &protocol.StopTask{}})
}

// Run starts the task and blocks until Finished arrives, the stream fails,
// or ctx ends.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dialogs := queue.NewFIFO[protocol.DialogRequest]()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return r.writeLoop(gctx) })
	g.Go(func() error { return r.dialogLoop(gctx, dialogs) })
	if r.opts.HeartbeatInterval > 0 {
		g.Go(func() error { return r.heartbeatLoop(gctx) })
	}

	start := r.opts.Start
	r.out.Push(&protocol.Request{TaskID: r.opts.TaskID, StartTask: &start})
	slog.Info("Task requested", "task_id", r.opts.TaskID, "task_type", start.TaskType)

	res, readErr := r.readLoop(gctx, dialogs)

	dialogs.Close()
	r.out.Close()
	cancel()
	loopErr := g.Wait()
	if readErr != nil {
		// A failed send cancels the read loop; report the cause.
		if loopErr != nil && ctx.Err() == nil && errors.Is(readErr, context.Canceled) {
			return nil, loopErr
		}
		return nil, readErr
	}
	return res, nil
}

// readLoop consumes responses until Finished. It never waits on a dialog.
func (r *Runner) readLoop(ctx context.Context, dialogs *queue.FIFO[protocol.DialogRequest]) (*Result, error) {
	res := &Result{}
	for {
		resp, err := r.conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrNoFinished
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("receive response: %w", err)
		}
		if r.opts.OnResponse != nil {
			r.opts.OnResponse(resp)
		}

		switch {
		case resp.Ack != nil:
			if resp.Ack.Kind == protocol.AckKindStart && !resp.Ack.OK {
				return nil, fmt.Errorf("%w: %s", ErrStartRejected, resp.Ack.Message)
			}
		case resp.DialogRequest != nil:
			res.Dialogs++
			dialogs.Push(*resp.DialogRequest)
		case resp.Event != nil:
			res.Events++
		case resp.Progress != nil:
			p := *resp.Progress
			res.LastProgress = &p
		case resp.Pong != nil:
			res.LastPongSeq = resp.Pong.Seq
		case resp.Finished != nil:
			res.Code = resp.Finished.Code
			res.Message = resp.Finished.Message
			slog.Info("Task finished", "task_id", resp.TaskID,
				"code", res.Code, "message", res.Message)
			return res, nil
		}
	}
}

// writeLoop is the only caller of conn.Send.
func (r *Runner) writeLoop(ctx context.Context) error {
	for {
		req, err := r.out.Pop(ctx)
		if err != nil {
			return ignoreStop(err)
		}
		if err := r.conn.Send(ctx, req); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send %s: %w", req.Action(), err)
		}
	}
}

// dialogLoop answers dialogs one at a time in arrival order.
func (r *Runner) dialogLoop(ctx context.Context, dialogs *queue.FIFO[protocol.DialogRequest]) error {
	for {
		dlg, err := dialogs.Pop(ctx)
		if err != nil {
			return ignoreStop(err)
		}
		answer, err := r.opts.Dialogs.HandleDialog(ctx, dlg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("Dialog handler failed, cancelling", "dialog_id", dlg.DialogID, "error", err)
			answer = protocol.DialogResponse{Result: protocol.DialogResultCancel}
		}
		answer.DialogID = dlg.DialogID
		r.out.Push(&protocol.Request{TaskID: r.opts.TaskID, DialogResponse: &answer})
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.out.Push(&protocol.Request{
				TaskID: r.opts.TaskID,
				Ping:   &protocol.Ping{Seq: r.seq.Add(1), ClientTimestamp: now.UTC()},
			})
		}
	}
}

// ignoreStop treats the normal ways a loop is told to stop as success.
func ignoreStop(err error) error {
	if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
