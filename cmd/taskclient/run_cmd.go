package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/client"
	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/transport/grpcstream"
	"github.com/codeready-toolchain/taskstream/pkg/transport/wsstream"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Exit codes for unsuccessful Finished codes.
const (
	exitCodeFailed    = 1
	exitCodeCancelled = 2
)

type runOptions struct {
	addr       string
	transport  string
	codec      string
	taskType   string
	taskID     string
	configJSON string
	targetDir  string
	answer     string
	heartbeat  time.Duration
	envFile    string
	verbose    bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a task and follow it until it finishes",
	Long: `Starts a task on a taskstream server and prints its events and progress.

Dialogs are answered according to --answer: "ok" and "cancel" answer every
dialog automatically, "prompt" asks on the terminal. Ctrl-C asks the server
to cancel the task; a second Ctrl-C disconnects immediately.

Exit status is 0 on success, 2 when the task was cancelled and 1 otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd.Context(), runOpts, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.addr, "addr", "", "server address (default $TASKSTREAM_ADDR, else localhost:50051 for grpc or ws://localhost:8080/ws)")
	f.StringVar(&runOpts.transport, "transport", "grpc", "transport: grpc or ws")
	f.StringVar(&runOpts.codec, "codec", "json", "WebSocket codec: json or cbor")
	f.StringVar(&runOpts.taskType, "task-type", "", "task type (blank uses the server default)")
	f.StringVar(&runOpts.taskID, "task-id", protocol.DefaultTaskID, "task id tagging every message")
	f.StringVar(&runOpts.configJSON, "config-json", "", "task configuration as JSON")
	f.StringVar(&runOpts.targetDir, "target-dir", "", "target directory passed to the task")
	f.StringVar(&runOpts.answer, "answer", "prompt", "dialog answers: ok, cancel or prompt")
	f.DurationVar(&runOpts.heartbeat, "heartbeat", 2*time.Second, "ping interval (0 disables)")
	f.StringVar(&runOpts.envFile, "env-file", ".env", "optional .env file")
	f.BoolVarP(&runOpts.verbose, "verbose", "v", false, "log protocol details")
}

func runTask(ctx context.Context, opts runOptions, in io.Reader, out io.Writer) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := godotenv.Load(opts.envFile); err != nil {
		slog.Debug("No .env file loaded", "path", opts.envFile, "error", err)
	}

	dialogs, err := dialogHandler(opts.answer, in, out)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := dial(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	runner := client.NewRunner(conn, client.Options{
		TaskID: opts.taskID,
		Start: protocol.StartTask{
			TaskType:        opts.taskType,
			ConfigJSON:      opts.configJSON,
			TargetDirectory: opts.targetDir,
		},
		Dialogs:           dialogs,
		HeartbeatInterval: opts.heartbeat,
		OnResponse:        printer(out),
	})

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(out, "Cancelling task (Ctrl-C again to disconnect)...")
			runner.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	switch res.Code {
	case protocol.FinishCodeSuccess:
		return nil
	case protocol.FinishCodeCancel:
		return &exitError{code: exitCodeCancelled, msg: res.Message}
	default:
		return &exitError{code: exitCodeFailed, msg: res.Message}
	}
}

func dial(ctx context.Context, opts runOptions) (client.Conn, error) {
	addr := opts.addr
	if addr == "" {
		addr = os.Getenv("TASKSTREAM_ADDR")
	}

	switch opts.transport {
	case "grpc":
		if addr == "" {
			addr = "localhost:50051"
		}
		return grpcstream.Dial(ctx, addr)
	case "ws":
		if addr == "" {
			addr = "ws://localhost:8080/ws"
		}
		codec, err := protocol.CodecByName(opts.codec)
		if err != nil {
			return nil, err
		}
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return wsstream.Dial(dialCtx, addr, codec)
	}
	return nil, fmt.Errorf("unknown transport %q (want grpc or ws)", opts.transport)
}

func dialogHandler(answer string, in io.Reader, out io.Writer) (client.DialogHandler, error) {
	switch answer {
	case "ok":
		return client.AutoAnswer(protocol.DialogResultOK), nil
	case "cancel":
		return client.AutoAnswer(protocol.DialogResultCancel), nil
	case "prompt":
		return client.NewPrompt(in, out), nil
	}
	return nil, fmt.Errorf("unknown --answer %q (want ok, cancel or prompt)", answer)
}

// printer renders task output. Progress is printed only when the whole
// percentage changes.
func printer(out io.Writer) func(*protocol.Response) {
	lastPercent := -1
	return func(resp *protocol.Response) {
		switch {
		case resp.Ack != nil:
			slog.Debug("Ack", "kind", resp.Ack.Kind, "ok", resp.Ack.OK, "message", resp.Ack.Message)
		case resp.Event != nil:
			e := resp.Event
			stage := ""
			if e.Stage != "" {
				stage = " [" + e.Stage + "]"
			}
			fmt.Fprintf(out, "%s %-5s%s %s\n", e.Timestamp.Local().Format("15:04:05"), e.Level, stage, e.Message)
		case resp.Progress != nil:
			p := resp.Progress
			if pct := int(p.Percent); pct != lastPercent {
				lastPercent = pct
				fmt.Fprintf(out, "progress %3d%% (%s)\n", pct, p.State)
			}
		case resp.Pong != nil:
			slog.Debug("Pong", "seq", resp.Pong.Seq)
		case resp.Finished != nil:
			fmt.Fprintf(out, "%s\n", resp.Finished.Message)
		}
	}
}
