package wsstream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/session"
	"github.com/codeready-toolchain/taskstream/pkg/transport/wsstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *session.Manager {
	reg := session.NewRegistry()
	reg.Register("quick", func(protocol.StartTask) (session.Task, error) {
		return session.TaskFunc(func(_ context.Context, tc *session.TaskContext) error {
			tc.Info("working")
			tc.Progress(50, protocol.ProgressStateRunning)
			return nil
		}), nil
	})
	reg.Register("confirm", func(protocol.StartTask) (session.Task, error) {
		return session.TaskFunc(func(ctx context.Context, tc *session.TaskContext) error {
			resp, err := tc.Confirm(ctx, "Proceed?", "Continue with the task")
			if err != nil {
				return err
			}
			if resp.Result != protocol.DialogResultOK {
				return session.ErrTaskCancelled
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

func setupServer(t *testing.T, originPatterns ...string) (*session.Manager, string) {
	t.Helper()
	manager := testManager()
	server := httptest.NewServer(wsstream.NewHandler(manager, originPatterns, 5*time.Second))
	t.Cleanup(server.Close)
	return manager, "ws" + server.URL[len("http"):]
}

func dial(t *testing.T, url string, codec protocol.Codec) *wsstream.ClientConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := wsstream.Dial(ctx, url, codec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// collect reads responses until Finished arrives, answering dialogs with
// answer when it is set.
func collect(t *testing.T, conn *wsstream.ClientConn, answer protocol.DialogResult) []*protocol.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out []*protocol.Response
	for {
		resp, err := conn.Recv(ctx)
		require.NoError(t, err)
		out = append(out, resp)
		if resp.DialogRequest != nil && answer != "" {
			require.NoError(t, conn.Send(ctx, &protocol.Request{
				DialogResponse: &protocol.DialogResponse{DialogID: resp.DialogRequest.DialogID, Result: answer},
			}))
		}
		if resp.Finished != nil {
			return out
		}
	}
}

func TestSessionOverJSON(t *testing.T) {
	_, url := setupServer(t)
	conn := dial(t, url, protocol.JSON)
	assert.Equal(t, "json", conn.Codec().Name())

	ctx := context.Background()
	require.NoError(t, conn.Send(ctx, &protocol.Request{TaskID: "job-1", StartTask: &protocol.StartTask{TaskType: "quick"}}))

	frames := collect(t, conn, "")
	require.NotEmpty(t, frames)
	first := frames[0]
	require.NotNil(t, first.Ack)
	assert.Equal(t, protocol.AckKindStart, first.Ack.Kind)
	assert.True(t, first.Ack.OK)
	assert.Equal(t, "job-1", first.TaskID)

	var messages []string
	for _, f := range frames {
		if f.Event != nil {
			messages = append(messages, f.Event.Message)
		}
	}
	assert.Contains(t, messages, "working")

	last := frames[len(frames)-1]
	assert.Equal(t, protocol.FinishCodeSuccess, last.Finished.Code)
	assert.Equal(t, "Finished with success", last.Finished.Message)

	_, err := conn.Recv(ctx)
	assert.Error(t, err, "server closes the connection after Finished")
}

func TestSessionOverCBOR(t *testing.T) {
	tests := []struct {
		name   string
		answer protocol.DialogResult
		want   protocol.FinishCode
	}{
		{name: "confirmed", answer: protocol.DialogResultOK, want: protocol.FinishCodeSuccess},
		{name: "declined", answer: protocol.DialogResultCancel, want: protocol.FinishCodeCancel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := setupServer(t)
			conn := dial(t, url, protocol.CBOR)
			assert.Equal(t, "cbor", conn.Codec().Name())

			require.NoError(t, conn.Send(context.Background(), &protocol.Request{StartTask: &protocol.StartTask{TaskType: "confirm"}}))
			frames := collect(t, conn, tt.answer)

			var dialogs, dialogAcks int
			for _, f := range frames {
				if f.DialogRequest != nil {
					dialogs++
					assert.Equal(t, protocol.DialogKindConfirm, f.DialogRequest.Kind)
					assert.Len(t, f.DialogRequest.DialogID, 32)
				}
				if f.Ack != nil && f.Ack.Kind == protocol.AckKindDialog {
					dialogAcks++
				}
			}
			assert.Equal(t, 1, dialogs)
			assert.Equal(t, 1, dialogAcks)
			assert.Equal(t, tt.want, frames[len(frames)-1].Finished.Code)
			assert.Equal(t, protocol.DefaultTaskID, frames[len(frames)-1].TaskID)
		})
	}
}

func TestMalformedFramesAreSkipped(t *testing.T) {
	_, url := setupServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{protocol.SubprotocolJSON},
	})
	require.NoError(t, err)
	defer ws.CloseNow()

	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte("not json")))
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{}`)))
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"ping":{"seq":1},"stop_task":{}}`)))
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"ping":{"seq":42}}`)))

	typ, data, err := ws.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	resp, err := protocol.DecodeResponse(protocol.JSON, data)
	require.NoError(t, err)
	require.NotNil(t, resp.Pong)
	assert.Equal(t, int64(42), resp.Pong.Seq)
}

func TestUnknownSubprotocolFallsBackToJSON(t *testing.T) {
	_, url := setupServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer ws.CloseNow()
	assert.Empty(t, ws.Subprotocol())

	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"ping":{"seq":7}}`)))
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"seq":7`)
}

func TestOriginPatterns(t *testing.T) {
	_, url := setupServer(t, "trusted.example.com")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example.com"}},
	})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://trusted.example.com"}},
	})
	require.NoError(t, err)
	_ = ws.CloseNow()
}

func TestClientCloseEndsSession(t *testing.T) {
	manager, url := setupServer(t)
	conn := dial(t, url, protocol.JSON)
	ctx := context.Background()

	require.NoError(t, conn.Send(ctx, &protocol.Request{StartTask: &protocol.StartTask{TaskType: "blocking"}}))
	resp, err := conn.Recv(ctx)
	require.NoError(t, err)
	require.NotNil(t, resp.Ack)

	require.Eventually(t, func() bool { return manager.Active() == 1 }, 5*time.Second, 10*time.Millisecond)
	_ = conn.Close()
	assert.Eventually(t, func() bool { return manager.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
}
