package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/model"
)

// InsertReport persists one workflow report, steps serialized as JSON.
func (s *Store) InsertReport(ctx context.Context, r *model.WorkflowReport) error {
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, account_name, order_number, source, dry_run, success, error, steps_json, start_time_ms, end_time_ms, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountName, r.OrderNumber, r.Trigger, boolToInt(r.DryRun), boolToInt(r.Success), r.Error,
		string(steps), r.StartTime.UnixMilli(), r.EndTime.UnixMilli(), r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// ListReports returns the most recent reports, newest first. An empty
// accountName matches every account.
func (s *Store) ListReports(ctx context.Context, accountName string, limit int) ([]*model.WorkflowReport, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, account_name, order_number, source, dry_run, success, error, steps_json, start_time_ms, end_time_ms, duration_ms
		FROM reports`
	args := []any{}
	if accountName != "" {
		query += ` WHERE account_name = ?`
		args = append(args, accountName)
	}
	query += ` ORDER BY start_time_ms DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []*model.WorkflowReport
	for rows.Next() {
		var (
			r                        model.WorkflowReport
			dryRun, success          int
			stepsJSON                string
			startMs, endMs, duration int64
		)
		if err := rows.Scan(&r.ID, &r.AccountName, &r.OrderNumber, &r.Trigger, &dryRun, &success, &r.Error, &stepsJSON, &startMs, &endMs, &duration); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.DryRun = dryRun != 0
		r.Success = success != 0
		r.StartTime = time.UnixMilli(startMs).UTC()
		r.EndTime = time.UnixMilli(endMs).UTC()
		r.Duration = time.Duration(duration) * time.Millisecond
		if err := json.Unmarshal([]byte(stepsJSON), &r.Steps); err != nil {
			return nil, fmt.Errorf("parse steps for report %s: %w", r.ID, err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
