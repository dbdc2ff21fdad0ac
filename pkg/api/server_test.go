package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/config"
	"github.com/codeready-toolchain/taskstream/pkg/history"
	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/session"
	"github.com/codeready-toolchain/taskstream/pkg/transport/wsstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.DefaultServerConfig(),
		Session: config.DefaultSessionConfig(),
		Tasks:   &config.TasksConfig{Backup: config.DefaultBackupTaskConfig()},
		History: config.DefaultHistoryConfig(),
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := session.NewRegistry()
	reg.Register("blocking", func(protocol.StartTask) (session.Task, error) {
		return session.TaskFunc(func(ctx context.Context, tc *session.TaskContext) error {
			tc.Info("waiting for cancel")
			<-ctx.Done()
			return ctx.Err()
		}), nil
	})
	opts := session.DefaultOptions()
	opts.DefaultTaskType = "blocking"
	opts.ShutdownTimeout = 2 * time.Second
	return NewServer(testConfig(), session.NewManager(reg, opts))
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthWithoutDatabase(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, healthStatusHealthy, resp.Status)
	assert.NotEmpty(t, resp.Version)
	assert.Zero(t, resp.ActiveSessions)
	assert.Empty(t, resp.Checks)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskstream_sessions_active")
}

func TestTaskTypes(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/task-types")
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TaskTypesResponse](t, rec)
	assert.Equal(t, []string{"blocking"}, resp.TaskTypes)
	assert.Equal(t, "backup", resp.Default)
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := wsstream.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", protocol.JSON)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.Send(ctx, &protocol.Request{TaskID: "api-1", StartTask: &protocol.StartTask{}}))
	ack, err := conn.Recv(ctx)
	require.NoError(t, err)
	require.NotNil(t, ack.Ack)
	require.True(t, ack.Ack.OK)

	var list SessionListResponse
	require.Eventually(t, func() bool {
		list = listSessions(s.Handler())
		return list.Total == 1 && list.Sessions[0].State == session.StateRunning
	}, 5*time.Second, 10*time.Millisecond)
	info := list.Sessions[0]
	assert.Equal(t, "api-1", info.TaskID)
	assert.Equal(t, "blocking", info.TaskType)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/sessions/"+info.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[SessionResponse](t, rec)
	assert.Equal(t, info.ID, got.ID)
	assert.Zero(t, got.PendingDialogs)

	rec = doRequest(t, s.Handler(), http.MethodPost, "/api/v1/sessions/"+info.ID+"/cancel")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Session cancellation requested", decode[CancelResponse](t, rec).Message)

	for {
		resp, err := conn.Recv(ctx)
		require.NoError(t, err)
		if resp.Finished != nil {
			assert.Equal(t, protocol.FinishCodeCancel, resp.Finished.Code)
			break
		}
	}
	assert.Eventually(t, func() bool {
		return listSessions(s.Handler()).Total == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocketPing(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := wsstream.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", protocol.CBOR)
	require.NoError(t, err)

	require.NoError(t, conn.Send(ctx, &protocol.Request{Ping: &protocol.Ping{Seq: 5}}))
	resp, err := conn.Recv(ctx)
	require.NoError(t, err)
	require.NotNil(t, resp.Pong)
	assert.Equal(t, int64(5), resp.Pong.Seq)
	assert.Equal(t, protocol.DefaultTaskID, resp.TaskID)
	assert.Equal(t, 1, listSessions(s.Handler()).Total)

	_ = conn.Close()
	assert.Eventually(t, func() bool {
		return listSessions(s.Handler()).Total == 0
	}, 5*time.Second, 10*time.Millisecond)
}

// listSessions is safe to call from assert.Eventually conditions.
func listSessions(h http.Handler) SessionListResponse {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	var list SessionListResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	return list
}

func TestUnknownSessionReturnsNotFound(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/sessions/nope"},
		{http.MethodPost, "/api/v1/sessions/nope/cancel"},
	} {
		rec := doRequest(t, s.Handler(), tc.method, tc.path)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.path)
		assert.Equal(t, "session not found", decode[ErrorResponse](t, rec).Error)
	}
}

type fakeRunStore struct {
	runs      map[int64]*history.Run
	lastLimit int
	err       error
}

func (f *fakeRunStore) ListRuns(_ context.Context, limit int) ([]history.Run, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []history.Run
	for _, r := range f.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRunStore) GetRun(_ context.Context, id int64) (*history.Run, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", history.ErrRunNotFound, id)
	}
	return r, nil
}

func TestRunsDisabled(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/runs", "/api/v1/runs/1"} {
		rec := doRequest(t, s.Handler(), http.MethodGet, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestListRuns(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLimit int
	}{
		{name: "default limit", query: "", wantCode: http.StatusOK, wantLimit: 50},
		{name: "explicit limit", query: "?limit=5", wantCode: http.StatusOK, wantLimit: 5},
		{name: "capped limit", query: "?limit=10000", wantCode: http.StatusOK, wantLimit: maxRunListLimit},
		{name: "non numeric", query: "?limit=abc", wantCode: http.StatusBadRequest},
		{name: "zero", query: "?limit=0", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			store := &fakeRunStore{runs: map[int64]*history.Run{
				1: {ID: 1, SessionID: "s1", TaskType: "backup", Outcome: "success"},
			}}
			s.SetHistory(nil, store)

			rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/runs"+tt.query)
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantLimit, store.lastLimit)
				assert.Len(t, decode[RunListResponse](t, rec).Runs, 1)
			}
		})
	}
}

func TestListRunsStoreFailure(t *testing.T) {
	s := newTestServer(t)
	s.SetHistory(nil, &fakeRunStore{err: fmt.Errorf("connection refused")})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode[ErrorResponse](t, rec).Error)
}

func TestGetRun(t *testing.T) {
	s := newTestServer(t)
	s.SetHistory(nil, &fakeRunStore{runs: map[int64]*history.Run{
		7: {ID: 7, SessionID: "s7", TaskType: "backup", Outcome: "cancel", Events: []protocol.Event{
			{Level: protocol.EventLevelWarn, Message: "User cancelled"},
		}},
	}})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/runs/7")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[history.Run](t, rec)
	assert.Equal(t, "s7", run.SessionID)
	require.Len(t, run.Events, 1)
	assert.Equal(t, "User cancelled", run.Events[0].Message)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/runs/8")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "run not found", decode[ErrorResponse](t, rec).Error)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/runs/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
