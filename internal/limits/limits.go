// Package limits gates trading on the day's realized plus unrealized P&L.
package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/clock"
	"equity-trading-bot/internal/database"
)

// Denial reasons
const (
	ReasonLossLimit = "DAILY_LOSS_LIMIT_HIT"
	ReasonProfitCap = "DAILY_PROFIT_CAP_HIT"
)

// Store is the persistence surface the limits checker needs.
type Store interface {
	RealizedPnLSince(ctx context.Context, since time.Time) (float64, error)
	GetActivePositions(ctx context.Context) ([]database.Position, error)
}

// DailyPnL is the day's P&L breakdown.
type DailyPnL struct {
	Realized   float64
	Unrealized float64
	Total      float64
}

// Checker evaluates the daily loss limit and profit cap.
type Checker struct {
	store     Store
	lossLimit float64
	profitCap float64
	now       func() time.Time
	log       zerolog.Logger
}

func NewChecker(store Store, lossLimit, profitCap float64, logger zerolog.Logger) *Checker {
	return &Checker{
		store:     store,
		lossLimit: lossLimit,
		profitCap: profitCap,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.With().Str("component", "limits").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (c *Checker) SetClock(now func() time.Time) { c.now = now }

// TodayPnL sums realized P&L since UTC midnight and unrealized P&L over
// active positions at their last known mark.
func (c *Checker) TodayPnL(ctx context.Context) (*DailyPnL, error) {
	midnight := clock.UTCMidnight(c.now())

	realized, err := c.store.RealizedPnLSince(ctx, midnight)
	if err != nil {
		return nil, fmt.Errorf("daily realized pnl: %w", err)
	}

	positions, err := c.store.GetActivePositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("daily unrealized pnl: %w", err)
	}
	unrealized := 0.0
	for _, p := range positions {
		unrealized += (p.CurrentPrice - p.EntryPrice) * p.Quantity
	}

	return &DailyPnL{
		Realized:   realized,
		Unrealized: unrealized,
		Total:      realized + unrealized,
	}, nil
}

// CanTrade denies at or past either boundary: total <= -lossLimit or
// total >= profitCap. The returned reason is empty when trading is allowed.
func (c *Checker) CanTrade(ctx context.Context) (bool, string, error) {
	pnl, err := c.TodayPnL(ctx)
	if err != nil {
		return false, "", err
	}

	if pnl.Total <= -c.lossLimit {
		c.log.Warn().Float64("total_pnl", pnl.Total).Float64("loss_limit", c.lossLimit).
			Msg("daily loss limit hit, trading halted")
		return false, ReasonLossLimit, nil
	}
	if c.profitCap > 0 && pnl.Total >= c.profitCap {
		c.log.Info().Float64("total_pnl", pnl.Total).Float64("profit_cap", c.profitCap).
			Msg("daily profit cap hit, trading halted")
		return false, ReasonProfitCap, nil
	}
	return true, "", nil
}
