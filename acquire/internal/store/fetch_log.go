package store

import (
	"context"
	"fmt"
	"time"
)

// InsertFetchLog records an acquisition decision.
func (s *Store) InsertFetchLog(ctx context.Context, e *FetchLogEntry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.FetchedAt == 0 {
		e.FetchedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO fetch_log (id, run_id, resource, source, url, status_code,
		error_class, error_message, duration_ms, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.Resource, e.Source, e.URL, e.StatusCode,
		e.ErrorClass, e.ErrorMessage, e.DurationMs, e.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert fetch log: %w", err)
	}
	return nil
}

// FetchHistory returns the entries of a run in insertion order.
func (s *Store) FetchHistory(ctx context.Context, runID string) ([]*FetchLogEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, run_id, resource, source, url, status_code,
		error_class, error_message, duration_ms, fetched_at
		FROM fetch_log WHERE run_id = ?
		ORDER BY fetched_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*FetchLogEntry
	for rows.Next() {
		var e FetchLogEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Resource, &e.Source, &e.URL, &e.StatusCode,
			&e.ErrorClass, &e.ErrorMessage, &e.DurationMs, &e.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan fetch log: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}
