package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewDB creates a new database connection from a connection URL
func NewDB(ctx context.Context, url string, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "database").Logger()
	log.Info().Msg("connected to PostgreSQL")

	return &DB{Pool: pool, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info().Msg("running database migrations")

	migrations := []string{
		// Signals: one row per (ticker, strategy, hourly bucket)
		`CREATE TABLE IF NOT EXISTS signals (
			signal_id VARCHAR(64) PRIMARY KEY,
			ticker VARCHAR(12) NOT NULL,
			strategy VARCHAR(32) NOT NULL,
			trigger_time TIMESTAMPTZ NOT NULL,
			trigger_price DECIMAL(18, 6) NOT NULL,
			rebound_bottom DECIMAL(18, 6) NOT NULL,
			go_in_price DECIMAL(18, 6) NOT NULL,
			profit_target DECIMAL(18, 6) NOT NULL,
			stop_loss DECIMAL(18, 6) NOT NULL,
			confidence DECIMAL(5, 2) NOT NULL,
			status VARCHAR(12) NOT NULL,
			cooldown_until TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_ticker_strategy ON signals(ticker, strategy)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status)`,

		// Positions: at most one active row per ticker
		`CREATE TABLE IF NOT EXISTS positions (
			ticket_id VARCHAR(32) PRIMARY KEY,
			ticker VARCHAR(12) NOT NULL,
			strategy VARCHAR(32) NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			entry_price DECIMAL(18, 6) NOT NULL,
			quantity DECIMAL(18, 6) NOT NULL,
			current_price DECIMAL(18, 6),
			stop_loss DECIMAL(18, 6) NOT NULL,
			status VARCHAR(12) NOT NULL DEFAULT 'OPEN',
			exit_signal VARCHAR(32),
			exit_price DECIMAL(18, 6),
			exit_time TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_positions_one_active
			ON positions(ticker) WHERE status IN ('OPEN', 'CLOSING')`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_ticker ON positions(ticker)`,

		// Trade history: append-only closed trades
		`CREATE TABLE IF NOT EXISTS trade_history (
			id BIGSERIAL PRIMARY KEY,
			exit_time TIMESTAMPTZ NOT NULL,
			ticker VARCHAR(12) NOT NULL,
			strategy VARCHAR(32) NOT NULL,
			entry_price DECIMAL(18, 6) NOT NULL,
			exit_price DECIMAL(18, 6) NOT NULL,
			quantity DECIMAL(18, 6) NOT NULL,
			pnl_pct DECIMAL(10, 6) NOT NULL,
			win_loss VARCHAR(4) NOT NULL,
			exit_reason VARCHAR(32) NOT NULL,
			ticket_id VARCHAR(32) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_history_exit_time ON trade_history(exit_time)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_history_ticker ON trade_history(ticker)`,

		// Ignore list: per-ticker quarantine with backoff
		`CREATE TABLE IF NOT EXISTS ignore_list (
			ticker VARCHAR(12) PRIMARY KEY,
			reason_code VARCHAR(48) NOT NULL,
			scope VARCHAR(32) NOT NULL DEFAULT 'ALL',
			ttl_utc TIMESTAMPTZ NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			backoff_level INTEGER NOT NULL DEFAULT 1,
			first_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			notes TEXT
		)`,

		// Cooldowns: per (ticker, strategy) re-entry lockout
		`CREATE TABLE IF NOT EXISTS cooldowns (
			ticker VARCHAR(12) NOT NULL,
			strategy VARCHAR(32) NOT NULL,
			cooldown_until TIMESTAMPTZ NOT NULL,
			reason VARCHAR(32) NOT NULL,
			set_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (ticker, strategy)
		)`,

		// Health state: append-only roll-up log
		`CREATE TABLE IF NOT EXISTS health_state (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			state VARCHAR(8) NOT NULL,
			api_calls_cycle INTEGER NOT NULL DEFAULT 0,
			data_errors_today INTEGER NOT NULL DEFAULT 0,
			ignore_list_size INTEGER NOT NULL DEFAULT 0,
			reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_state_timestamp ON health_state(timestamp)`,

		// Price cache: durable tier behind Redis
		`CREATE TABLE IF NOT EXISTS price_cache (
			ticker VARCHAR(12) PRIMARY KEY,
			price DECIMAL(18, 6) NOT NULL,
			volume BIGINT,
			bid DECIMAL(18, 6),
			ask DECIMAL(18, 6),
			timestamp TIMESTAMPTZ NOT NULL,
			source VARCHAR(16) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_cache_timestamp ON price_cache(timestamp)`,

		// Execution quality: one row per fill side (entry BUY, exit SELL)
		`CREATE TABLE IF NOT EXISTS execution_quality (
			ticket_id VARCHAR(32) NOT NULL,
			ticker VARCHAR(12) NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			expected_price DECIMAL(18, 6) NOT NULL,
			actual_price DECIMAL(18, 6) NOT NULL,
			slippage_pct DECIMAL(10, 6) NOT NULL,
			expected_qty DECIMAL(18, 6) NOT NULL,
			actual_qty DECIMAL(18, 6) NOT NULL,
			fill_ratio DECIMAL(6, 4) NOT NULL,
			partial_fill BOOLEAN NOT NULL DEFAULT FALSE,
			order_type VARCHAR(8) NOT NULL,
			side VARCHAR(4) NOT NULL,
			PRIMARY KEY (ticket_id, side)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_quality_ticker ON execution_quality(ticker)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_quality_timestamp ON execution_quality(timestamp)`,

		// Error log: Sentinel reads today's counts from here
		`CREATE TABLE IF NOT EXISTS error_log (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			component VARCHAR(32) NOT NULL,
			error TEXT NOT NULL,
			severity VARCHAR(12) NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_error_log_timestamp ON error_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_error_log_resolved ON error_log(resolved)`,

		// Data quality log: validator findings
		`CREATE TABLE IF NOT EXISTS data_quality_log (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ticker VARCHAR(12) NOT NULL,
			issue_type VARCHAR(32) NOT NULL,
			severity VARCHAR(12) NOT NULL,
			bars_expected INTEGER,
			bars_actual INTEGER,
			action_taken VARCHAR(48)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_data_quality_timestamp ON data_quality_log(timestamp)`,

		// API budget: per-cycle call accounting
		`CREATE TABLE IF NOT EXISTS api_budget (
			id BIGSERIAL PRIMARY KEY,
			cycle_start TIMESTAMPTZ NOT NULL,
			endpoint VARCHAR(32) NOT NULL,
			calls INTEGER NOT NULL,
			budget_limit INTEGER NOT NULL
		)`,

		// Strategy stats: per (ticker, strategy) trade aggregates
		`CREATE TABLE IF NOT EXISTS strategy_stats (
			ticker VARCHAR(12) NOT NULL,
			strategy VARCHAR(32) NOT NULL,
			trades INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			total_pnl_pct DECIMAL(12, 6) NOT NULL DEFAULT 0,
			last_trade_at TIMESTAMPTZ,
			PRIMARY KEY (ticker, strategy)
		)`,

		// Watch list: scan universe with tier assignment
		`CREATE TABLE IF NOT EXISTS watch_list (
			ticker VARCHAR(12) PRIMARY KEY,
			tier INTEGER NOT NULL DEFAULT 2,
			notes TEXT,
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_scanned TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_watch_list_tier ON watch_list(tier)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info().Msg("database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
