// Package tasks holds the built-in task bodies served by taskstream.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/config"
	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/session"
)

// BackupTaskType is the registry name of BackupTask.
const BackupTaskType = "backup"

// BackupTask is the reference task: it announces itself, asks the user to
// confirm on the device, then walks through a fixed number of work steps
// while a background goroutine keeps logging.
type BackupTask struct {
	cfg *config.BackupTaskConfig
}

// NewBackupTask creates a backup task with the given pacing.
func NewBackupTask(cfg *config.BackupTaskConfig) *BackupTask {
	return &BackupTask{cfg: cfg}
}

// Register adds all built-in task types to reg.
func Register(reg *session.Registry, cfg *config.TasksConfig) {
	backup := cfg.Backup
	reg.Register(BackupTaskType, func(protocol.StartTask) (session.Task, error) {
		return NewBackupTask(backup), nil
	})
}

// Run implements session.Task.
func (t *BackupTask) Run(ctx context.Context, tc *session.TaskContext) error {
	tc.Info("Step1: preparing extraction", session.WithStage("Init"))
	tc.Progress(0, protocol.ProgressStateRunning)

	if err := sleep(ctx, t.cfg.InitialDelay); err != nil {
		return err
	}
	tc.Progress(5, protocol.ProgressStateRunning)

	go t.backgroundLog(ctx, tc)

	tc.Info("Waiting for user confirmation", session.WithStage("UserGate"))
	resp, err := tc.Confirm(ctx, "Confirmation required",
		"Authorize the extraction on the device, then choose OK to continue. Cancel aborts the task.")
	if err != nil {
		return err
	}
	if resp.Result != protocol.DialogResultOK {
		tc.Warn("User cancelled", session.WithStage("UserGate"))
		tc.Progress(0, protocol.ProgressStateCancel)
		return session.ErrTaskCancelled
	}

	tc.Info("User confirmed, continuing extraction", session.WithStage("Work"))
	span := 90.0 / float64(t.cfg.Steps)
	for i := 0; i < t.cfg.Steps; i++ {
		if err := sleep(ctx, t.cfg.StepDelay); err != nil {
			return err
		}
		tc.Progress(5+float64(i+1)*span, protocol.ProgressStateRunning)
	}

	tc.Info("Extraction complete", session.WithStage("Done"))
	tc.Progress(100, protocol.ProgressStateSuccess)
	return nil
}

// backgroundLog emits periodic log lines until done or ctx ends. Lines
// emitted after the session closed its event sink are dropped.
func (t *BackupTask) backgroundLog(ctx context.Context, tc *session.TaskContext) {
	for i := 1; i <= t.cfg.BackgroundLogLines; i++ {
		if err := sleep(ctx, t.cfg.BackgroundLogInterval); err != nil {
			return
		}
		tc.Info(fmt.Sprintf("Background worker heartbeat %d/%d", i, t.cfg.BackgroundLogLines))
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
