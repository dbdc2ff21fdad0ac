package client_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/session"
)

var errPipeClosed = errors.New("pipe closed")

// pipe connects a client Conn to a server session.Stream in memory.
type pipe struct {
	toServer   chan *protocol.Request
	toClient   chan *protocol.Response
	closed     chan struct{} // client hung up
	serverDone chan struct{} // server session returned
	closeOnce  sync.Once
}

func newPipe() *pipe {
	return &pipe{
		toServer:   make(chan *protocol.Request),
		toClient:   make(chan *protocol.Response),
		closed:     make(chan struct{}),
		serverDone: make(chan struct{}),
	}
}

// Client side.

func (p *pipe) Send(ctx context.Context, req *protocol.Request) error {
	select {
	case p.toServer <- req:
		return nil
	case <-p.closed:
		return errPipeClosed
	case <-p.serverDone:
		return errPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipe) Recv(ctx context.Context) (*protocol.Response, error) {
	select {
	case resp := <-p.toClient:
		return resp, nil
	case <-p.serverDone:
		return nil, io.EOF
	case <-p.closed:
		return nil, errPipeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipe) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// serverEnd is the session.Stream half.
type serverEnd struct{ p *pipe }

func (s serverEnd) Recv(ctx context.Context) (*protocol.Request, error) {
	select {
	case req := <-s.p.toServer:
		return req, nil
	case <-s.p.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s serverEnd) Send(ctx context.Context, resp *protocol.Response) error {
	select {
	case s.p.toClient <- resp:
		return nil
	case <-s.p.closed:
		return errPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func testManager() *session.Manager {
	reg := session.NewRegistry()
	reg.Register("quick", func(protocol.StartTask) (session.Task, error) {
		return session.TaskFunc(func(_ context.Context, tc *session.TaskContext) error {
			tc.Info("one")
			tc.Info("two")
			tc.Progress(50, protocol.ProgressStateRunning)
			return nil
		}), nil
	})
	reg.Register("two-dialogs", func(protocol.StartTask) (session.Task, error) {
		return session.TaskFunc(func(ctx context.Context, tc *session.TaskContext) error {
			for _, title := range []string{"first", "second"} {
				resp, err := tc.Confirm(ctx, title, "Continue?")
				if err != nil {
					return err
				}
				if resp.Result != protocol.DialogResultOK {
					return session.ErrTaskCancelled
				}
			}
			return nil
		}), nil
	})
	reg.Register("blocking", func(protocol.StartTask) (session.Task, error) {
		return session.TaskFunc(func(ctx context.Context, _ *session.TaskContext) error {
			<-ctx.Done()
			return ctx.Err()
		}), nil
	})
	opts := session.DefaultOptions()
	opts.DefaultTaskType = "quick"
	opts.ShutdownTimeout = 2 * time.Second
	return session.NewManager(reg, opts)
}

// connect serves a session on a fresh pipe and returns its client end.
func connect(t *testing.T) *pipe {
	t.Helper()
	p := newPipe()
	ctx, cancel := context.WithCancel(context.Background())
	manager := testManager()
	go func() {
		defer close(p.serverDone)
		_ = manager.Serve(ctx, serverEnd{p})
	}()
	t.Cleanup(func() {
		_ = p.Close()
		cancel()
		<-p.serverDone
	})
	return p
}
