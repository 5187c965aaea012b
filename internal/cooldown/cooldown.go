// Package cooldown enforces the per (ticker, strategy) re-entry lockout
// after exits and rejections.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/database"
)

// Exit reasons with dedicated durations.
const (
	ReasonStopLoss   = "STOP_LOSS"
	ReasonTakeProfit = "TAKE_PROFIT"
	ReasonRejected   = "REJECTED"
)

const (
	stopLossDuration   = 60 * time.Minute
	takeProfitDuration = 30 * time.Minute
	rejectedDuration   = 15 * time.Minute
	defaultDuration    = 60 * time.Minute
)

// Store is the persistence surface the cooldown map needs.
type Store interface {
	UpsertCooldown(ctx context.Context, c *database.CooldownEntry) error
	GetCooldown(ctx context.Context, ticker, strategy string) (*database.CooldownEntry, error)
}

// Map tracks cooldown expiries per (ticker, strategy) pair.
type Map struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewMap(store Store, logger zerolog.Logger) *Map {
	return &Map{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.With().Str("component", "cooldown").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (m *Map) SetClock(now func() time.Time) { m.now = now }

// DurationFor maps an exit reason to its lockout duration.
func DurationFor(reason string) time.Duration {
	switch reason {
	case ReasonStopLoss:
		return stopLossDuration
	case ReasonTakeProfit:
		return takeProfitDuration
	case ReasonRejected:
		return rejectedDuration
	default:
		return defaultDuration
	}
}

// Set stores the cooldown for the pair. The store keeps the later of any
// existing expiry and this one.
func (m *Map) Set(ctx context.Context, ticker, strategy, reason string) error {
	now := m.now()
	until := now.Add(DurationFor(reason))
	err := m.store.UpsertCooldown(ctx, &database.CooldownEntry{
		Ticker:        ticker,
		Strategy:      strategy,
		CooldownUntil: until,
		Reason:        reason,
		SetAt:         now,
	})
	if err != nil {
		return fmt.Errorf("set cooldown %s/%s: %w", ticker, strategy, err)
	}
	m.log.Debug().Str("ticker", ticker).Str("strategy", strategy).
		Str("reason", reason).Time("until", until).Msg("cooldown set")
	return nil
}

// IsOnCooldown reports whether the pair's stored expiry is in the future.
func (m *Map) IsOnCooldown(ctx context.Context, ticker, strategy string) (bool, error) {
	entry, err := m.store.GetCooldown(ctx, ticker, strategy)
	if err != nil {
		return false, fmt.Errorf("check cooldown %s/%s: %w", ticker, strategy, err)
	}
	if entry == nil {
		return false, nil
	}
	return entry.CooldownUntil.After(m.now()), nil
}
