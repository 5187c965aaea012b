package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access for all trading state. State transitions
// are guarded updates; multi-row mutations run in one transaction.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// ============================================================
// Signals
// ============================================================

// InsertKIV inserts a new KIV signal. Returns false when a row with the same
// signal_id already exists (same hourly bucket, idempotent no-op).
func (r *Repository) InsertKIV(ctx context.Context, s *Signal) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO signals (signal_id, ticker, strategy, trigger_time, trigger_price,
			rebound_bottom, go_in_price, profit_target, stop_loss, confidence, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (signal_id) DO NOTHING`,
		s.SignalID, s.Ticker, s.Strategy, s.TriggerTime, s.TriggerPrice,
		s.ReboundBottom, s.GoInPrice, s.ProfitTarget, s.StopLoss, s.Confidence, s.Status,
	)
	if err != nil {
		return false, fmt.Errorf("insert KIV signal: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetActiveSignal returns the KIV or CONFIRMED row for the pair, or nil.
func (r *Repository) GetActiveSignal(ctx context.Context, ticker, strategy string) (*Signal, error) {
	s, err := r.scanSignal(r.db.Pool.QueryRow(ctx, `
		SELECT signal_id, ticker, strategy, trigger_time, trigger_price, rebound_bottom,
			go_in_price, profit_target, stop_loss, confidence, status, cooldown_until
		FROM signals
		WHERE ticker = $1 AND strategy = $2 AND status IN ('KIV', 'CONFIRMED')
		ORDER BY trigger_time DESC
		LIMIT 1`, ticker, strategy))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active signal: %w", err)
	}
	return s, nil
}

// GetNewestKIV returns the newest KIV row for the pair, or nil.
func (r *Repository) GetNewestKIV(ctx context.Context, ticker, strategy string) (*Signal, error) {
	s, err := r.scanSignal(r.db.Pool.QueryRow(ctx, `
		SELECT signal_id, ticker, strategy, trigger_time, trigger_price, rebound_bottom,
			go_in_price, profit_target, stop_loss, confidence, status, cooldown_until
		FROM signals
		WHERE ticker = $1 AND strategy = $2 AND status = 'KIV'
		ORDER BY trigger_time DESC
		LIMIT 1`, ticker, strategy))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get newest KIV: %w", err)
	}
	return s, nil
}

// TransitionSignal moves a signal from one status to another. Returns false
// when the row was not in the expected source status, leaving it untouched.
func (r *Repository) TransitionSignal(ctx context.Context, signalID, from, to string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE signals SET status = $3, updated_at = NOW()
		WHERE signal_id = $1 AND status = $2`,
		signalID, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("transition signal %s %s->%s: %w", signalID, from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireConfirmedOlderThan expires CONFIRMED rows whose trigger_time is
// before the cutoff. Returns the number of rows expired.
func (r *Repository) ExpireConfirmedOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE signals SET status = 'EXPIRED', updated_at = NOW()
		WHERE status = 'CONFIRMED' AND trigger_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire confirmed signals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetConfirmedSignals returns CONFIRMED rows at or above the confidence
// floor, highest confidence first.
func (r *Repository) GetConfirmedSignals(ctx context.Context, minConfidence float64) ([]Signal, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT signal_id, ticker, strategy, trigger_time, trigger_price, rebound_bottom,
			go_in_price, profit_target, stop_loss, confidence, status, cooldown_until
		FROM signals
		WHERE status = 'CONFIRMED' AND confidence >= $1
		ORDER BY confidence DESC`, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("get confirmed signals: %w", err)
	}
	defer rows.Close()

	var signals []Signal
	for rows.Next() {
		s, err := r.scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan confirmed signal: %w", err)
		}
		signals = append(signals, *s)
	}
	return signals, rows.Err()
}

// GetSignalsByStatus returns all rows in the given status, newest first.
func (r *Repository) GetSignalsByStatus(ctx context.Context, status string) ([]Signal, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT signal_id, ticker, strategy, trigger_time, trigger_price, rebound_bottom,
			go_in_price, profit_target, stop_loss, confidence, status, cooldown_until
		FROM signals
		WHERE status = $1
		ORDER BY trigger_time DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("get signals by status: %w", err)
	}
	defer rows.Close()

	var signals []Signal
	for rows.Next() {
		s, err := r.scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		signals = append(signals, *s)
	}
	return signals, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanSignal(row rowScanner) (*Signal, error) {
	var s Signal
	err := row.Scan(&s.SignalID, &s.Ticker, &s.Strategy, &s.TriggerTime, &s.TriggerPrice,
		&s.ReboundBottom, &s.GoInPrice, &s.ProfitTarget, &s.StopLoss, &s.Confidence,
		&s.Status, &s.CooldownUntil)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ============================================================
// Positions
// ============================================================

// InsertPosition creates a new position row. The partial unique index
// rejects a second active position for the same ticker.
func (r *Repository) InsertPosition(ctx context.Context, p *Position) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO positions (ticket_id, ticker, strategy, entry_time, entry_price,
			quantity, current_price, stop_loss, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.TicketID, p.Ticker, p.Strategy, p.EntryTime, p.EntryPrice,
		p.Quantity, p.CurrentPrice, p.StopLoss, p.Status,
	)
	if err != nil {
		return fmt.Errorf("insert position %s: %w", p.TicketID, err)
	}
	return nil
}

// GetActivePositions returns OPEN and CLOSING positions.
func (r *Repository) GetActivePositions(ctx context.Context) ([]Position, error) {
	return r.queryPositions(ctx, `
		SELECT ticket_id, ticker, strategy, entry_time, entry_price, quantity,
			COALESCE(current_price, entry_price), stop_loss, status, exit_signal, exit_price, exit_time
		FROM positions
		WHERE status IN ('OPEN', 'CLOSING')
		ORDER BY entry_time`)
}

// GetOpenPositions returns OPEN positions only.
func (r *Repository) GetOpenPositions(ctx context.Context) ([]Position, error) {
	return r.queryPositions(ctx, `
		SELECT ticket_id, ticker, strategy, entry_time, entry_price, quantity,
			COALESCE(current_price, entry_price), stop_loss, status, exit_signal, exit_price, exit_time
		FROM positions
		WHERE status = 'OPEN'
		ORDER BY entry_time`)
}

// GetClosingPositions returns positions flagged for a strategy exit.
func (r *Repository) GetClosingPositions(ctx context.Context) ([]Position, error) {
	return r.queryPositions(ctx, `
		SELECT ticket_id, ticker, strategy, entry_time, entry_price, quantity,
			COALESCE(current_price, entry_price), stop_loss, status, exit_signal, exit_price, exit_time
		FROM positions
		WHERE status = 'CLOSING'
		ORDER BY entry_time`)
}

func (r *Repository) queryPositions(ctx context.Context, sql string, args ...any) ([]Position, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.TicketID, &p.Ticker, &p.Strategy, &p.EntryTime, &p.EntryPrice,
			&p.Quantity, &p.CurrentPrice, &p.StopLoss, &p.Status, &p.ExitSignal,
			&p.ExitPrice, &p.ExitTime); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetActivePosition returns the single OPEN or CLOSING position for a
// ticker, or nil.
func (r *Repository) GetActivePosition(ctx context.Context, ticker string) (*Position, error) {
	positions, err := r.queryPositions(ctx, `
		SELECT ticket_id, ticker, strategy, entry_time, entry_price, quantity,
			COALESCE(current_price, entry_price), stop_loss, status, exit_signal, exit_price, exit_time
		FROM positions
		WHERE ticker = $1 AND status IN ('OPEN', 'CLOSING')
		LIMIT 1`, ticker)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	return &positions[0], nil
}

// UpdateCurrentPrice refreshes the mark price of an active position.
func (r *Repository) UpdateCurrentPrice(ctx context.Context, ticketID string, price float64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE positions SET current_price = $2 WHERE ticket_id = $1`, ticketID, price)
	if err != nil {
		return fmt.Errorf("update current price: %w", err)
	}
	return nil
}

// MarkClosing transitions a position OPEN -> CLOSING with the exit signal.
// Returns false if the position was not OPEN.
func (r *Repository) MarkClosing(ctx context.Context, ticketID, exitSignal string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE positions SET status = 'CLOSING', exit_signal = $2
		WHERE ticket_id = $1 AND status = 'OPEN'`, ticketID, exitSignal)
	if err != nil {
		return false, fmt.Errorf("mark position closing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// HealEntryPrice overwrites the local entry price with the broker's.
func (r *Repository) HealEntryPrice(ctx context.Context, ticketID string, price float64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE positions SET entry_price = $2 WHERE ticket_id = $1`, ticketID, price)
	if err != nil {
		return fmt.Errorf("heal entry price: %w", err)
	}
	return nil
}

// OpenNotional returns the sum of entry_price * quantity over active
// positions, the capital already committed.
func (r *Repository) OpenNotional(ctx context.Context) (float64, error) {
	var notional float64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(entry_price * quantity), 0)
		FROM positions WHERE status IN ('OPEN', 'CLOSING')`).Scan(&notional)
	if err != nil {
		return 0, fmt.Errorf("open notional: %w", err)
	}
	return notional, nil
}

// ArchivePosition closes a position and appends the trade record in one
// transaction, then folds the result into strategy_stats.
func (r *Repository) ArchivePosition(ctx context.Context, ticketID string, exitPrice float64, exitTime time.Time, exitReason string) (*TradeRecord, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var p Position
	err = tx.QueryRow(ctx, `
		UPDATE positions
		SET status = 'CLOSED', exit_price = $2, exit_time = $3
		WHERE ticket_id = $1 AND status IN ('OPEN', 'CLOSING')
		RETURNING ticker, strategy, entry_price, quantity`, ticketID, exitPrice, exitTime).
		Scan(&p.Ticker, &p.Strategy, &p.EntryPrice, &p.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("archive position %s: not active", ticketID)
	}
	if err != nil {
		return nil, fmt.Errorf("close position %s: %w", ticketID, err)
	}

	pnlPct := (exitPrice - p.EntryPrice) / p.EntryPrice
	winLoss := "LOSS"
	if pnlPct > 0 {
		winLoss = "WIN"
	}

	trade := &TradeRecord{
		ExitTime:   exitTime,
		Ticker:     p.Ticker,
		Strategy:   p.Strategy,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   p.Quantity,
		PnLPct:     pnlPct,
		WinLoss:    winLoss,
		ExitReason: exitReason,
		TicketID:   ticketID,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO trade_history (exit_time, ticker, strategy, entry_price, exit_price,
			quantity, pnl_pct, win_loss, exit_reason, ticket_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		trade.ExitTime, trade.Ticker, trade.Strategy, trade.EntryPrice, trade.ExitPrice,
		trade.Quantity, trade.PnLPct, trade.WinLoss, trade.ExitReason, trade.TicketID,
	)
	if err != nil {
		return nil, fmt.Errorf("append trade history: %w", err)
	}

	wins, losses := 0, 1
	if winLoss == "WIN" {
		wins, losses = 1, 0
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO strategy_stats (ticker, strategy, trades, wins, losses, total_pnl_pct, last_trade_at)
		VALUES ($1, $2, 1, $3, $4, $5, $6)
		ON CONFLICT (ticker, strategy) DO UPDATE SET
			trades = strategy_stats.trades + 1,
			wins = strategy_stats.wins + $3,
			losses = strategy_stats.losses + $4,
			total_pnl_pct = strategy_stats.total_pnl_pct + $5,
			last_trade_at = $6`,
		trade.Ticker, trade.Strategy, wins, losses, pnlPct, exitTime,
	)
	if err != nil {
		return nil, fmt.Errorf("update strategy stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit archive tx: %w", err)
	}
	return trade, nil
}

// RealizedPnLSince sums realized dollar P&L from trades closed at or after
// the cutoff.
func (r *Repository) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	var pnl float64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM((exit_price - entry_price) * quantity), 0)
		FROM trade_history WHERE exit_time >= $1`, since).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("realized pnl: %w", err)
	}
	return pnl, nil
}

// GetStrategyStats returns all per-(ticker, strategy) aggregates.
func (r *Repository) GetStrategyStats(ctx context.Context) ([]StrategyStats, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT ticker, strategy, trades, wins, losses, total_pnl_pct, last_trade_at
		FROM strategy_stats ORDER BY ticker, strategy`)
	if err != nil {
		return nil, fmt.Errorf("get strategy stats: %w", err)
	}
	defer rows.Close()

	var stats []StrategyStats
	for rows.Next() {
		var s StrategyStats
		if err := rows.Scan(&s.Ticker, &s.Strategy, &s.Trades, &s.Wins, &s.Losses,
			&s.TotalPnLPct, &s.LastTradeAt); err != nil {
			return nil, fmt.Errorf("scan strategy stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
