package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ============================================================
// Execution quality
// ============================================================

// InsertExecutionQuality records one fill's slippage row. A ticket carries
// one row per side, so the entry buy and the exit sell both survive; a
// repeated fill report for the same side refreshes the row.
func (r *Repository) InsertExecutionQuality(ctx context.Context, q *ExecutionQuality) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO execution_quality (ticket_id, ticker, timestamp, expected_price, actual_price,
			slippage_pct, expected_qty, actual_qty, fill_ratio, partial_fill, order_type, side)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (ticket_id, side) DO UPDATE SET
			timestamp = EXCLUDED.timestamp,
			expected_price = EXCLUDED.expected_price,
			actual_price = EXCLUDED.actual_price,
			slippage_pct = EXCLUDED.slippage_pct,
			expected_qty = EXCLUDED.expected_qty,
			actual_qty = EXCLUDED.actual_qty,
			fill_ratio = EXCLUDED.fill_ratio,
			partial_fill = EXCLUDED.partial_fill,
			order_type = EXCLUDED.order_type`,
		q.TicketID, q.Ticker, q.Timestamp, q.ExpectedPrice, q.ActualPrice,
		q.SlippagePct, q.ExpectedQty, q.ActualQty, q.FillRatio, q.PartialFill, q.OrderType, q.Side,
	)
	if err != nil {
		return fmt.Errorf("insert execution quality: %w", err)
	}
	return nil
}

// SlippageStats aggregates fill quality per ticker over the lookback window.
func (r *Repository) SlippageStats(ctx context.Context, since time.Time) ([]SlippageSummary, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT ticker, COUNT(*), AVG(slippage_pct), MAX(slippage_pct),
			AVG(CASE WHEN partial_fill THEN 1.0 ELSE 0.0 END)
		FROM execution_quality
		WHERE timestamp >= $1
		GROUP BY ticker
		ORDER BY ticker`, since)
	if err != nil {
		return nil, fmt.Errorf("slippage stats: %w", err)
	}
	defer rows.Close()

	var summaries []SlippageSummary
	for rows.Next() {
		var s SlippageSummary
		if err := rows.Scan(&s.Ticker, &s.Fills, &s.AvgSlippagePct, &s.MaxSlippagePct,
			&s.PartialFillRate); err != nil {
			return nil, fmt.Errorf("scan slippage summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// ============================================================
// Price cache (durable tier)
// ============================================================

// UpsertPrice writes the price row through to the durable cache.
func (r *Repository) UpsertPrice(ctx context.Context, e *PriceEntry) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO price_cache (ticker, price, volume, bid, ask, timestamp, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ticker) DO UPDATE SET
			price = $2, volume = $3, bid = $4, ask = $5, timestamp = $6, source = $7`,
		e.Ticker, e.Price, e.Volume, e.Bid, e.Ask, e.Timestamp, e.Source,
	)
	if err != nil {
		return fmt.Errorf("upsert price: %w", err)
	}
	return nil
}

// GetPrice returns the cached row for a ticker, or nil.
func (r *Repository) GetPrice(ctx context.Context, ticker string) (*PriceEntry, error) {
	var e PriceEntry
	err := r.db.Pool.QueryRow(ctx, `
		SELECT ticker, price, COALESCE(volume, 0), bid, ask, timestamp, source
		FROM price_cache WHERE ticker = $1`, ticker).
		Scan(&e.Ticker, &e.Price, &e.Volume, &e.Bid, &e.Ask, &e.Timestamp, &e.Source)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get price: %w", err)
	}
	return &e, nil
}

// DeleteStalePrices removes rows older than the cutoff and returns the count.
func (r *Repository) DeleteStalePrices(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM price_cache WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale prices: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ============================================================
// Watch list
// ============================================================

// UpsertWatchItem adds or retiers a universe member.
func (r *Repository) UpsertWatchItem(ctx context.Context, w *WatchItem) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO watch_list (ticker, tier, notes)
		VALUES ($1, $2, $3)
		ON CONFLICT (ticker) DO UPDATE SET tier = $2, notes = $3`,
		w.Ticker, w.Tier, w.Notes,
	)
	if err != nil {
		return fmt.Errorf("upsert watch item: %w", err)
	}
	return nil
}

// GetWatchTier returns the tickers assigned to a tier.
func (r *Repository) GetWatchTier(ctx context.Context, tier int) ([]WatchItem, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT ticker, tier, COALESCE(notes, ''), added_at, last_scanned
		FROM watch_list WHERE tier = $1 ORDER BY ticker`, tier)
	if err != nil {
		return nil, fmt.Errorf("get watch tier: %w", err)
	}
	defer rows.Close()

	var items []WatchItem
	for rows.Next() {
		var w WatchItem
		if err := rows.Scan(&w.Ticker, &w.Tier, &w.Notes, &w.AddedAt, &w.LastScanned); err != nil {
			return nil, fmt.Errorf("scan watch item: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// GetWatchList returns the whole universe ordered by tier then ticker.
func (r *Repository) GetWatchList(ctx context.Context) ([]WatchItem, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT ticker, tier, COALESCE(notes, ''), added_at, last_scanned
		FROM watch_list ORDER BY tier, ticker`)
	if err != nil {
		return nil, fmt.Errorf("get watch list: %w", err)
	}
	defer rows.Close()

	var items []WatchItem
	for rows.Next() {
		var w WatchItem
		if err := rows.Scan(&w.Ticker, &w.Tier, &w.Notes, &w.AddedAt, &w.LastScanned); err != nil {
			return nil, fmt.Errorf("scan watch item: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// TouchWatchItem stamps last_scanned after a scan pass.
func (r *Repository) TouchWatchItem(ctx context.Context, ticker string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE watch_list SET last_scanned = $2 WHERE ticker = $1`, ticker, at)
	if err != nil {
		return fmt.Errorf("touch watch item: %w", err)
	}
	return nil
}

// RemoveWatchItem drops a ticker from the universe.
func (r *Repository) RemoveWatchItem(ctx context.Context, ticker string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM watch_list WHERE ticker = $1`, ticker)
	if err != nil {
		return fmt.Errorf("remove watch item: %w", err)
	}
	return nil
}
