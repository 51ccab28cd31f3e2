package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a run id has no row.
var ErrNotFound = errors.New("not found")

// Run represents a row in the runs table.
type Run struct {
	ID          string
	Terminal    string
	Runtime     string
	Revision    string
	Status      string
	FailedStage string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
}

// StageEvent represents a row in the stage_events table.
type StageEvent struct {
	RunID     string
	Seq       int
	Stage     string
	Event     string
	Duration  time.Duration
	Error     string
	Timestamp time.Time
}

// StartRun inserts a run in the running state.
func (d *DB) StartRun(r Run) error {
	_, err := d.conn.Exec(
		`INSERT INTO runs (id, terminal, runtime, revision, status, started_at) VALUES ($1, $2, $3, $4, 'running', $5)`,
		r.ID, r.Terminal, r.Runtime, r.Revision, timestamp(r.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the final status of a run.
func (d *DB) FinishRun(id, status, failedStage, errMsg, revision string, finishedAt time.Time, duration time.Duration) error {
	res, err := d.conn.Exec(
		`UPDATE runs SET status = $1, failed_stage = $2, error = $3, revision = $4, finished_at = $5, duration_ms = $6 WHERE id = $7`,
		status, failedStage, errMsg, revision, timestamp(finishedAt), duration.Milliseconds(), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

// LogStageEvent inserts a stage event.
func (d *DB) LogStageEvent(ev StageEvent) error {
	_, err := d.conn.Exec(
		`INSERT INTO stage_events (run_id, seq, stage, event, duration_ms, error, timestamp) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.RunID, ev.Seq, ev.Stage, ev.Event, ev.Duration.Milliseconds(), ev.Error, timestamp(ev.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("log stage event: %w", err)
	}
	return nil
}

const runColumns = `id, terminal, runtime, revision, status, failed_stage, error, started_at, finished_at, duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var started, finished string
	var durationMs int64
	if err := s.Scan(&r.ID, &r.Terminal, &r.Runtime, &r.Revision, &r.Status, &r.FailedStage, &r.Error,
		&started, &finished, &durationMs); err != nil {
		return nil, err
	}
	r.StartedAt = parseTimestamp(started)
	r.FinishedAt = parseTimestamp(finished)
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return &r, nil
}

// GetRun returns one run by id.
func (d *DB) GetRun(id string) (*Run, error) {
	row := d.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetStageEvents returns a run's events in the order they happened.
func (d *DB) GetStageEvents(runID string) ([]StageEvent, error) {
	rows, err := d.conn.Query(
		`SELECT run_id, seq, stage, event, duration_ms, error, timestamp FROM stage_events WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get stage events: %w", err)
	}
	defer rows.Close()

	var events []StageEvent
	for rows.Next() {
		var ev StageEvent
		var durationMs int64
		var ts string
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Stage, &ev.Event, &durationMs, &ev.Error, &ts); err != nil {
			return nil, fmt.Errorf("scan stage event: %w", err)
		}
		ev.Duration = time.Duration(durationMs) * time.Millisecond
		ev.Timestamp = parseTimestamp(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}
