package sqlite

import (
	"context"
	"fmt"
)

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			account_name TEXT NOT NULL,
			order_number TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			dry_run INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			steps_json TEXT NOT NULL DEFAULT '[]',
			start_time_ms INTEGER NOT NULL,
			end_time_ms INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_account ON reports(account_name, start_time_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_order ON reports(order_number);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
