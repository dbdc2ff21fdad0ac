package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/stretchr/testify/require"
)

// fakeStream is an in-memory Stream. The test plays the client: it pushes
// requests with send and reads server frames with next/nextOf.
type fakeStream struct {
	in       chan *protocol.Request
	hangOnce sync.Once

	mu     sync.Mutex
	frames []*protocol.Response
	sent   chan *protocol.Response

	sendErr error
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		in:   make(chan *protocol.Request, 16),
		sent: make(chan *protocol.Response, 1024),
	}
}

func (s *fakeStream) Recv(ctx context.Context) (*protocol.Request, error) {
	select {
	case req, ok := <-s.in:
		if !ok {
			return nil, io.EOF
		}
		return req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Send(_ context.Context, resp *protocol.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, resp)
	s.sent <- resp
	return nil
}

func (s *fakeStream) send(req *protocol.Request) { s.in <- req }

// hangUp half-closes the client side; Recv returns io.EOF.
func (s *fakeStream) hangUp() { s.hangOnce.Do(func() { close(s.in) }) }

func (s *fakeStream) breakPipe() {
	s.mu.Lock()
	s.sendErr = errors.New("broken pipe")
	s.mu.Unlock()
}

func (s *fakeStream) all() []*protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*protocol.Response(nil), s.frames...)
}

func (s *fakeStream) next(t *testing.T) *protocol.Response {
	t.Helper()
	select {
	case r := <-s.sent:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a server frame")
		return nil
	}
}

// nextOf skips frames until one of the given kind arrives.
func (s *fakeStream) nextOf(t *testing.T, kind string) *protocol.Response {
	t.Helper()
	for {
		if r := s.next(t); r.Kind() == kind {
			return r
		}
	}
}

func startReq(taskType string) *protocol.Request {
	return &protocol.Request{StartTask: &protocol.StartTask{TaskType: taskType}}
}

func stopReq() *protocol.Request {
	return &protocol.Request{StopTask: &protocol.StopTask{}}
}

func answerReq(id string, result protocol.DialogResult) *protocol.Request {
	return &protocol.Request{DialogResponse: &protocol.DialogResponse{DialogID: id, Result: result}}
}

// serve runs c on s in the background and hangs the client up at cleanup.
func serve(t *testing.T, c *Controller, s *fakeStream) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(ctx, s) }()
	t.Cleanup(cancel)
	t.Cleanup(s.hangUp)
	return errCh
}

func waitServe(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

var (
	quickTask = TaskFunc(func(_ context.Context, tc *TaskContext) error {
		tc.Progress(50, protocol.ProgressStateRunning)
		tc.Info("halfway")
		return nil
	})
	blockingTask = TaskFunc(func(ctx context.Context, _ *TaskContext) error {
		<-ctx.Done()
		return ctx.Err()
	})
	confirmTask = TaskFunc(func(ctx context.Context, tc *TaskContext) error {
		resp, err := tc.Confirm(ctx, "Proceed?", "Start the job")
		if err != nil {
			return err
		}
		if resp.Result != protocol.DialogResultOK {
			return ErrTaskCancelled
		}
		return nil
	})
)

func testRegistry() *Registry {
	reg := NewRegistry()
	for name, task := range map[string]Task{
		"quick":    quickTask,
		"blocking": blockingTask,
		"confirm":  confirmTask,
	} {
		reg.Register(name, func(protocol.StartTask) (Task, error) { return task, nil })
	}
	return reg
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.DefaultTaskType = "quick"
	opts.ShutdownTimeout = 2 * time.Second
	return opts
}
