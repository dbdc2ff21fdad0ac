package main

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/session"
	"github.com/codeready-toolchain/taskstream/pkg/transport/grpcstream"
	"github.com/codeready-toolchain/taskstream/pkg/transport/wsstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func testManager() *session.Manager {
	reg := session.NewRegistry()
	reg.Register("confirm", func(protocol.StartTask) (session.Task, error) {
		return session.TaskFunc(func(ctx context.Context, tc *session.TaskContext) error {
			tc.Info("about to ask", session.WithStage("UserGate"))
			resp, err := tc.Confirm(ctx, "Confirmation required", "Proceed?")
			if err != nil {
				return err
			}
			if resp.Result != protocol.DialogResultOK {
				return session.ErrTaskCancelled
			}
			tc.Progress(60, protocol.ProgressStateRunning)
			return nil
		}), nil
	})
	opts := session.DefaultOptions()
	opts.DefaultTaskType = "confirm"
	opts.ShutdownTimeout = 2 * time.Second
	return session.NewManager(reg, opts)
}

func startGRPC(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer()
	grpcstream.Register(server, testManager())
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)
	return lis.Addr().String()
}

func startWS(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(wsstream.NewHandler(testManager(), nil, 5*time.Second))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func baseOptions() runOptions {
	return runOptions{
		taskID:    protocol.DefaultTaskID,
		codec:     "json",
		heartbeat: 50 * time.Millisecond,
		envFile:   "does-not-exist.env",
	}
}

func TestRunTask(t *testing.T) {
	tests := []struct {
		name      string
		transport string
		codec     string
		answer    string
		input     string
		wantCode  int // 0 means success
		wantOut   string
	}{
		{name: "grpc auto ok", transport: "grpc", answer: "ok", wantOut: "Finished with success"},
		{name: "grpc auto cancel", transport: "grpc", answer: "cancel", wantCode: exitCodeCancelled},
		{name: "ws cbor prompt yes", transport: "ws", codec: "cbor", answer: "prompt", input: "y\n", wantOut: "[y/N]"},
		{name: "ws json prompt no", transport: "ws", codec: "json", answer: "prompt", input: "n\n", wantCode: exitCodeCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := baseOptions()
			opts.transport = tt.transport
			opts.answer = tt.answer
			if tt.codec != "" {
				opts.codec = tt.codec
			}
			if tt.transport == "grpc" {
				opts.addr = startGRPC(t)
			} else {
				opts.addr = startWS(t)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			var out bytes.Buffer
			err := runTask(ctx, opts, strings.NewReader(tt.input), &out)

			if tt.wantCode == 0 {
				require.NoError(t, err)
				assert.Contains(t, out.String(), "[UserGate] about to ask")
				assert.Contains(t, out.String(), "progress 100% (success)")
			} else {
				var exitErr *exitError
				require.ErrorAs(t, err, &exitErr)
				assert.Equal(t, tt.wantCode, exitErr.code)
				assert.Equal(t, "Finished with cancel", exitErr.msg)
			}
			if tt.wantOut != "" {
				assert.Contains(t, out.String(), tt.wantOut)
			}
		})
	}
}

func TestRunTaskRejectsBadFlags(t *testing.T) {
	opts := baseOptions()
	opts.transport = "carrier-pigeon"
	opts.answer = "ok"
	err := runTask(context.Background(), opts, strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorContains(t, err, `unknown transport "carrier-pigeon"`)

	opts = baseOptions()
	opts.transport = "grpc"
	opts.answer = "maybe"
	err = runTask(context.Background(), opts, strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorContains(t, err, `unknown --answer "maybe"`)
}

func TestPrinter(t *testing.T) {
	var out bytes.Buffer
	render := printer(&out)
	ts := time.Date(2025, 1, 1, 12, 30, 0, 0, time.Local)

	render(&protocol.Response{Event: &protocol.Event{Timestamp: ts, Level: protocol.EventLevelWarn, Message: "User cancelled", Stage: "UserGate"}})
	render(&protocol.Response{Progress: &protocol.Progress{Percent: 5.2, State: protocol.ProgressStateRunning}})
	render(&protocol.Response{Progress: &protocol.Progress{Percent: 5.9, State: protocol.ProgressStateRunning}})
	render(&protocol.Response{Progress: &protocol.Progress{Percent: 0, State: protocol.ProgressStateCancel}})
	render(&protocol.Response{Finished: &protocol.Finished{Code: protocol.FinishCodeCancel, Message: "Finished with cancel"}})

	assert.Equal(t, strings.Join([]string{
		"12:30:00 warn  [UserGate] User cancelled",
		"progress   5% (running)",
		"progress   0% (cancel)",
		"Finished with cancel",
		"",
	}, "\n"), out.String())
}
