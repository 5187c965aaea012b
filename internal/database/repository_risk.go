package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ============================================================
// Ignore list
// ============================================================

// GetIgnoreEntry returns the row for a ticker regardless of expiry, or nil.
func (r *Repository) GetIgnoreEntry(ctx context.Context, ticker string) (*IgnoreEntry, error) {
	var e IgnoreEntry
	err := r.db.Pool.QueryRow(ctx, `
		SELECT ticker, reason_code, scope, ttl_utc, retry_count, backoff_level, first_seen, COALESCE(notes, '')
		FROM ignore_list WHERE ticker = $1`, ticker).
		Scan(&e.Ticker, &e.ReasonCode, &e.Scope, &e.TTLUTC, &e.RetryCount, &e.BackoffLevel, &e.FirstSeen, &e.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ignore entry: %w", err)
	}
	return &e, nil
}

// UpsertIgnoreEntry inserts or replaces the ignore row for a ticker.
func (r *Repository) UpsertIgnoreEntry(ctx context.Context, e *IgnoreEntry) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO ignore_list (ticker, reason_code, scope, ttl_utc, retry_count, backoff_level, first_seen, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ticker) DO UPDATE SET
			reason_code = $2, scope = $3, ttl_utc = $4,
			retry_count = $5, backoff_level = $6, notes = $8`,
		e.Ticker, e.ReasonCode, e.Scope, e.TTLUTC, e.RetryCount, e.BackoffLevel, e.FirstSeen, e.Notes,
	)
	if err != nil {
		return fmt.Errorf("upsert ignore entry: %w", err)
	}
	return nil
}

// DeleteIgnoreEntry removes a ticker's ignore row (operator override).
func (r *Repository) DeleteIgnoreEntry(ctx context.Context, ticker string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM ignore_list WHERE ticker = $1`, ticker)
	if err != nil {
		return fmt.Errorf("delete ignore entry: %w", err)
	}
	return nil
}

// CountActiveIgnores counts rows with an unexpired TTL.
func (r *Repository) CountActiveIgnores(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ignore_list WHERE ttl_utc > $1`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active ignores: %w", err)
	}
	return n, nil
}

// ============================================================
// Cooldowns
// ============================================================

// UpsertCooldown stores the expiry for a (ticker, strategy) pair, keeping
// the later of the existing and new expiry.
func (r *Repository) UpsertCooldown(ctx context.Context, c *CooldownEntry) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO cooldowns (ticker, strategy, cooldown_until, reason, set_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticker, strategy) DO UPDATE SET
			cooldown_until = GREATEST(cooldowns.cooldown_until, $3),
			reason = $4, set_at = $5`,
		c.Ticker, c.Strategy, c.CooldownUntil, c.Reason, c.SetAt,
	)
	if err != nil {
		return fmt.Errorf("upsert cooldown: %w", err)
	}
	return nil
}

// GetCooldown returns the cooldown row for a pair, or nil.
func (r *Repository) GetCooldown(ctx context.Context, ticker, strategy string) (*CooldownEntry, error) {
	var c CooldownEntry
	err := r.db.Pool.QueryRow(ctx, `
		SELECT ticker, strategy, cooldown_until, reason, set_at
		FROM cooldowns WHERE ticker = $1 AND strategy = $2`, ticker, strategy).
		Scan(&c.Ticker, &c.Strategy, &c.CooldownUntil, &c.Reason, &c.SetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	return &c, nil
}
