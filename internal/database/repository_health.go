package database

import (
	"context"
	"fmt"
	"time"
)

// ============================================================
// Health state
// ============================================================

// AppendHealth appends one health roll-up row.
func (r *Repository) AppendHealth(ctx context.Context, h *HealthRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO health_state (timestamp, state, api_calls_cycle, data_errors_today, ignore_list_size, reason)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		h.Timestamp, h.State, h.APICallsCycle, h.DataErrorsToday, h.IgnoreListSize, h.Reason,
	)
	if err != nil {
		return fmt.Errorf("append health state: %w", err)
	}
	return nil
}

// LatestHealth returns the most recent health row, or nil.
func (r *Repository) LatestHealth(ctx context.Context) (*HealthRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT timestamp, state, api_calls_cycle, data_errors_today, ignore_list_size, COALESCE(reason, '')
		FROM health_state ORDER BY timestamp DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("latest health: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var h HealthRecord
	if err := rows.Scan(&h.Timestamp, &h.State, &h.APICallsCycle, &h.DataErrorsToday,
		&h.IgnoreListSize, &h.Reason); err != nil {
		return nil, fmt.Errorf("scan health: %w", err)
	}
	return &h, nil
}

// ============================================================
// Error log
// ============================================================

// LogError persists one error for Sentinel accounting.
func (r *Repository) LogError(ctx context.Context, component, message, severity string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO error_log (component, error, severity) VALUES ($1, $2, $3)`,
		component, message, severity)
	if err != nil {
		return fmt.Errorf("log error: %w", err)
	}
	return nil
}

// CountErrorsSince counts error rows at or after the cutoff.
func (r *Repository) CountErrorsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM error_log WHERE timestamp >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count errors: %w", err)
	}
	return n, nil
}

// ============================================================
// Data quality log
// ============================================================

// LogDataQuality persists one validator finding.
func (r *Repository) LogDataQuality(ctx context.Context, ticker, issueType, severity string, barsExpected, barsActual int, action string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO data_quality_log (ticker, issue_type, severity, bars_expected, bars_actual, action_taken)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ticker, issueType, severity, barsExpected, barsActual, action)
	if err != nil {
		return fmt.Errorf("log data quality: %w", err)
	}
	return nil
}

// ============================================================
// API budget
// ============================================================

// RecordAPIBudget records the calls consumed in one cycle per endpoint.
func (r *Repository) RecordAPIBudget(ctx context.Context, cycleStart time.Time, endpoint string, calls, limit int) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO api_budget (cycle_start, endpoint, calls, budget_limit)
		VALUES ($1, $2, $3, $4)`,
		cycleStart, endpoint, calls, limit)
	if err != nil {
		return fmt.Errorf("record api budget: %w", err)
	}
	return nil
}
