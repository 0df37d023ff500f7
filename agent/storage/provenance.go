package storage

import (
	"context"
	"fmt"
	"time"
)

// Printer sources.
const (
	SourceManual = "manual"
	SourceAgent  = "agent"
)

// MarkInstalled records that the agent created queue name.
func (s *Store) MarkInstalled(ctx context.Context, name, uri, driver string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO printer_provenance (name, source, uri, driver, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET source = excluded.source, uri = excluded.uri, driver = excluded.driver
	`, name, SourceAgent, uri, driver, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record provenance for %s: %w", name, err)
	}
	return nil
}

// UpdateDriver records a driver change for an agent-created queue.
func (s *Store) UpdateDriver(ctx context.Context, name, driver string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE printer_provenance SET driver = ? WHERE name = ?`, driver, name); err != nil {
		return fmt.Errorf("failed to update driver for %s: %w", name, err)
	}
	return nil
}

// Forget drops the provenance of name.
func (s *Store) Forget(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM printer_provenance WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete provenance for %s: %w", name, err)
	}
	return nil
}

// Sources maps every agent-created queue to its source.
func (s *Store) Sources(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, source FROM printer_provenance`)
	if err != nil {
		return nil, fmt.Errorf("failed to list provenance: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, source string
		if err := rows.Scan(&name, &source); err != nil {
			return nil, err
		}
		out[name] = source
	}
	return out, rows.Err()
}

// Reconcile forgets queues that no longer exist and returns their names.
func (s *Store) Reconcile(ctx context.Context, existing []string) ([]string, error) {
	sources, err := s.Sources(ctx)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}
	var removed []string
	for name := range sources {
		if present[name] {
			continue
		}
		if err := s.Forget(ctx, name); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}
