// Package history persists finished task runs and the events they emitted.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRunNotFound indicates no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Run is a stored task run.
type Run struct {
	ID         int64            `json:"id"`
	SessionID  string           `json:"session_id"`
	TaskID     string           `json:"task_id"`
	TaskType   string           `json:"task_type"`
	Outcome    string           `json:"outcome"`
	Message    string           `json:"message,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Events     []protocol.Event `json:"events,omitempty"`
}

// Store reads and writes runs in PostgreSQL. It implements session.Recorder.
type Store struct {
	pool *pgxpool.Pool
}

var _ session.Recorder = (*Store)(nil)

// NewStore creates a store on a migrated pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RecordRun inserts the run and its events in one transaction.
func (s *Store) RecordRun(ctx context.Context, run session.RunRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO task_runs (session_id, task_id, task_type, outcome, message, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		run.SessionID, run.TaskID, run.TaskType, run.Outcome.String(), run.Message,
		run.StartedAt, run.FinishedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(run.Events) > 0 {
		batch := &pgx.Batch{}
		for i, e := range run.Events {
			batch.Queue(
				`INSERT INTO task_run_events (run_id, seq, ts, level, message, stage, code)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				id, i, e.Timestamp, string(e.Level), e.Message, e.Stage, e.Code,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert run events: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns the most recently finished runs, newest first, without
// their events.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, task_id, task_type, outcome, message, started_at, finished_at
		 FROM task_runs
		 ORDER BY finished_at DESC, id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[runRow])
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}

	out := make([]Run, len(runs))
	for i, r := range runs {
		out[i] = r.toRun()
	}
	return out, nil
}

// GetRun returns one run with its events in emission order.
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, task_id, task_type, outcome, message, started_at, finished_at
		 FROM task_runs WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[runRow])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run := row.toRun()

	rows, err = s.pool.Query(ctx,
		`SELECT ts, level, message, stage, code
		 FROM task_run_events WHERE run_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}
	run.Events, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (protocol.Event, error) {
		var e protocol.Event
		var level string
		err := row.Scan(&e.Timestamp, &level, &e.Message, &e.Stage, &e.Code)
		e.Level = protocol.EventLevel(level)
		e.Timestamp = e.Timestamp.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan run events: %w", err)
	}
	return &run, nil
}

type runRow struct {
	ID         int64
	SessionID  string
	TaskID     string
	TaskType   string
	Outcome    string
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r runRow) toRun() Run {
	return Run{
		ID:         r.ID,
		SessionID:  r.SessionID,
		TaskID:     r.TaskID,
		TaskType:   r.TaskType,
		Outcome:    r.Outcome,
		Message:    r.Message,
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
	}
}
