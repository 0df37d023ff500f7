package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PrintRecord is one entry of the local print history.
type PrintRecord struct {
	TaskID    string    `json:"task_id"`
	Printer   string    `json:"printer"`
	Filename  string    `json:"filename"`
	Ext       string    `json:"ext"`
	Copies    int       `json:"copies"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	JobID     string    `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PrintStats summarizes the print history.
type PrintStats struct {
	Total     int        `json:"total"`
	Failed    int        `json:"failed"`
	LastPrint *time.Time `json:"last_print,omitempty"`
}

// RecordPrint appends r to the history.
func (s *Store) RecordPrint(ctx context.Context, r PrintRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO print_history (task_id, printer, filename, ext, copies, success, message, job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.TaskID, r.Printer, r.Filename, r.Ext, r.Copies, r.Success, r.Message, r.JobID, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record print: %w", err)
	}
	return nil
}

// RecentPrints returns up to limit entries, newest first.
func (s *Store) RecentPrints(ctx context.Context, limit int) ([]PrintRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, printer, filename, ext, copies, success, message, job_id, created_at
		FROM print_history ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query print history: %w", err)
	}
	defer rows.Close()

	var out []PrintRecord
	for rows.Next() {
		var r PrintRecord
		var taskID, filename, ext, message, jobID sql.NullString
		if err := rows.Scan(&taskID, &r.Printer, &filename, &ext, &r.Copies, &r.Success, &message, &jobID, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.TaskID, r.Filename, r.Ext = taskID.String, filename.String, ext.String
		r.Message, r.JobID = message.String, jobID.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats summarizes the history.
func (s *Store) Stats(ctx context.Context) (PrintStats, error) {
	var st PrintStats
	var failed sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN success THEN 0 ELSE 1 END) FROM print_history
	`).Scan(&st.Total, &failed)
	if err != nil {
		return st, fmt.Errorf("failed to read print stats: %w", err)
	}
	st.Failed = int(failed.Int64)

	if st.Total > 0 {
		var last time.Time
		err := s.db.QueryRowContext(ctx, `SELECT created_at FROM print_history ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&last)
		if err != nil {
			return st, fmt.Errorf("failed to read last print: %w", err)
		}
		st.LastPrint = &last
	}
	return st, nil
}

// PruneHistory deletes entries older than maxAge and returns how many.
func (s *Store) PruneHistory(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM print_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune print history: %w", err)
	}
	return res.RowsAffected()
}
