// Package ignore quarantines misbehaving tickers with exponential backoff.
package ignore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/database"
)

// ScopeAll applies the quarantine to every strategy.
const ScopeAll = "ALL"

const maxBackoffLevel = 4

// backoffFor maps the backoff level to the quarantine duration.
func backoffFor(level int) time.Duration {
	switch level {
	case 1:
		return time.Hour
	case 2:
		return 4 * time.Hour
	case 3:
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Store is the persistence surface the ignore list needs.
type Store interface {
	GetIgnoreEntry(ctx context.Context, ticker string) (*database.IgnoreEntry, error)
	UpsertIgnoreEntry(ctx context.Context, e *database.IgnoreEntry) error
	DeleteIgnoreEntry(ctx context.Context, ticker string) error
	CountActiveIgnores(ctx context.Context, now time.Time) (int, error)
}

// List is the ignore-list manager.
type List struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewList(store Store, logger zerolog.Logger) *List {
	return &List{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.With().Str("component", "ignore").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (l *List) SetClock(now func() time.Time) { l.now = now }

// Add quarantines a ticker. A first offense starts at level 1 (1h); repeat
// offenses escalate the backoff level up to level 4 (7d). The level never
// decreases.
func (l *List) Add(ctx context.Context, ticker, reason, scope string) error {
	if scope == "" {
		scope = ScopeAll
	}
	now := l.now()

	existing, err := l.store.GetIgnoreEntry(ctx, ticker)
	if err != nil {
		return fmt.Errorf("ignore add %s: %w", ticker, err)
	}

	entry := &database.IgnoreEntry{
		Ticker:       ticker,
		ReasonCode:   reason,
		Scope:        scope,
		BackoffLevel: 1,
		RetryCount:   1,
		FirstSeen:    now,
	}
	if existing != nil {
		entry.BackoffLevel = existing.BackoffLevel + 1
		if entry.BackoffLevel > maxBackoffLevel {
			entry.BackoffLevel = maxBackoffLevel
		}
		entry.RetryCount = existing.RetryCount + 1
		entry.FirstSeen = existing.FirstSeen
	}
	entry.TTLUTC = now.Add(backoffFor(entry.BackoffLevel))

	if err := l.store.UpsertIgnoreEntry(ctx, entry); err != nil {
		return fmt.Errorf("ignore add %s: %w", ticker, err)
	}

	l.log.Info().Str("ticker", ticker).Str("reason", reason).
		Int("backoff_level", entry.BackoffLevel).Time("ttl", entry.TTLUTC).
		Msg("ticker quarantined")
	return nil
}

// IsIgnored reports whether the ticker has an unexpired quarantine covering
// the strategy (entries scoped ALL cover every strategy).
func (l *List) IsIgnored(ctx context.Context, ticker, strategy string) (bool, error) {
	entry, err := l.store.GetIgnoreEntry(ctx, ticker)
	if err != nil {
		return false, fmt.Errorf("ignore check %s: %w", ticker, err)
	}
	if entry == nil || !entry.TTLUTC.After(l.now()) {
		return false, nil
	}
	if entry.Scope != ScopeAll && entry.Scope != strategy {
		return false, nil
	}
	return true, nil
}

// Reset removes the ticker's quarantine entirely (operator override).
func (l *List) Reset(ctx context.Context, ticker string) error {
	if err := l.store.DeleteIgnoreEntry(ctx, ticker); err != nil {
		return fmt.Errorf("ignore reset %s: %w", ticker, err)
	}
	l.log.Info().Str("ticker", ticker).Msg("quarantine reset")
	return nil
}

// ActiveCount returns the number of unexpired entries.
func (l *List) ActiveCount(ctx context.Context) (int, error) {
	return l.store.CountActiveIgnores(ctx, l.now())
}
