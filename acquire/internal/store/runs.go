package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: not found")

// StartRun inserts a running row. ID and StartedAt are filled when empty.
func (s *Store) StartRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.StartedAt == 0 {
		r.StartedAt = time.Now().UnixMilli()
	}
	if r.Trigger == "" {
		r.Trigger = "cli"
	}
	r.Status = StatusRunning
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, triggered_by, status, started_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.Trigger, r.Status, r.StartedAt)
	if err != nil {
		return fmt.Errorf("store: start run: %w", err)
	}
	return nil
}

// FinishRun records the final state of r.
func (s *Store) FinishRun(ctx context.Context, r *Run) error {
	if r.FinishedAt == 0 {
		r.FinishedAt = time.Now().UnixMilli()
	}
	failures := r.Failures
	if failures == nil {
		failures = []string{}
	}
	fj, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("store: marshal failures: %w", err)
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET status = ?, device_source = ?, failures = ?, error_message = ?, finished_at = ?
		WHERE id = ?`,
		r.Status, r.DeviceSource, string(fj), r.ErrorMessage, r.FinishedAt, r.ID)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: finish run %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const runColumns = `id, triggered_by, status, device_source, failures, error_message, started_at, COALESCE(finished_at, 0)`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r  Run
		fj string
	)
	if err := sc.Scan(&r.ID, &r.Trigger, &r.Status, &r.DeviceSource, &fj,
		&r.ErrorMessage, &r.StartedAt, &r.FinishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(fj), &r.Failures); err != nil {
		return nil, fmt.Errorf("scan run failures: %w", err)
	}
	return &r, nil
}
