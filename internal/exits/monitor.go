// Package exits watches open positions for the three exit paths: stop loss,
// strategy-signaled close, and the forced pre-close flatten.
package exits

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/clock"
	"equity-trading-bot/internal/database"
	"equity-trading-bot/internal/pricecache"
)

// Store is the position-book surface the monitor needs.
type Store interface {
	GetOpenPositions(ctx context.Context) ([]database.Position, error)
	GetClosingPositions(ctx context.Context) ([]database.Position, error)
	UpdateCurrentPrice(ctx context.Context, ticketID string, price float64) error
}

// Prices supplies current quotes.
type Prices interface {
	Get(ctx context.Context, ticker string) (*pricecache.Quote, error)
}

// Trader is the executor surface the monitor drives.
type Trader interface {
	ExecuteExit(ctx context.Context, pos *database.Position, reason string, expectedPrice float64) error
	ExecuteStrategyExit(ctx context.Context, pos *database.Position, limitPrice float64) error
}

// Result summarizes one monitor pass.
type Result struct {
	StopLossExits   int
	StrategyExits   int
	ForcedExits     int
	PreCloseWarning bool
}

// Monitor runs the exit checks in priority order every tick.
type Monitor struct {
	store             Store
	prices            Prices
	trader            Trader
	session           *clock.Session
	forceCloseMinutes float64
	warningMinutes    float64
	now               func() time.Time
	log               zerolog.Logger
}

func NewMonitor(store Store, prices Prices, trader Trader, session *clock.Session, forceCloseMinutes, warningMinutes float64, logger zerolog.Logger) *Monitor {
	return &Monitor{
		store:             store,
		prices:            prices,
		trader:            trader,
		session:           session,
		forceCloseMinutes: forceCloseMinutes,
		warningMinutes:    warningMinutes,
		now:               func() time.Time { return time.Now().UTC() },
		log:               logger.With().Str("component", "exits").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Check runs stop losses, then strategy exits, then the pre-close rules.
// A quote failure for one ticker never blocks the others.
func (m *Monitor) Check(ctx context.Context) (*Result, error) {
	res := &Result{}
	now := m.now()

	open, err := m.store.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("exit check: %w", err)
	}

	minutesLeft := m.session.MinutesUntilClose(now)
	inSession := m.session.IsMarketOpen(now)
	forcing := inSession && minutesLeft <= m.forceCloseMinutes
	res.PreCloseWarning = inSession && !forcing && minutesLeft <= m.warningMinutes

	for i := range open {
		pos := &open[i]
		quote, err := m.prices.Get(ctx, pos.Ticker)
		if err != nil {
			m.log.Error().Err(err).Str("ticker", pos.Ticker).Msg("exit quote fetch failed")
			if forcing {
				// flattening must not depend on a live quote
				if err := m.trader.ExecuteExit(ctx, pos, "FORCE_CLOSE", pos.CurrentPrice); err == nil {
					res.ForcedExits++
				}
			}
			continue
		}
		price := quote.Price
		if err := m.store.UpdateCurrentPrice(ctx, pos.TicketID, price); err != nil {
			m.log.Error().Err(err).Str("ticket_id", pos.TicketID).Msg("mark update failed")
		}

		drop := (price - pos.EntryPrice) / pos.EntryPrice
		switch {
		case drop <= -pos.StopLoss:
			m.log.Warn().Str("ticket_id", pos.TicketID).Float64("drop", drop).
				Float64("stop", pos.StopLoss).Msg("stop loss hit")
			if err := m.trader.ExecuteExit(ctx, pos, "STOP_LOSS", price); err != nil {
				m.log.Error().Err(err).Str("ticket_id", pos.TicketID).Msg("stop loss exit failed")
				continue
			}
			res.StopLossExits++

		case forcing:
			if err := m.trader.ExecuteExit(ctx, pos, "FORCE_CLOSE", price); err != nil {
				m.log.Error().Err(err).Str("ticket_id", pos.TicketID).Msg("forced exit failed")
				continue
			}
			res.ForcedExits++
		}
	}

	closing, err := m.store.GetClosingPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("exit check closing: %w", err)
	}
	for i := range closing {
		pos := &closing[i]
		quote, err := m.prices.Get(ctx, pos.Ticker)
		if err != nil {
			m.log.Error().Err(err).Str("ticker", pos.Ticker).Msg("strategy exit quote failed")
			continue
		}
		if err := m.trader.ExecuteStrategyExit(ctx, pos, quote.Price); err != nil {
			m.log.Error().Err(err).Str("ticket_id", pos.TicketID).Msg("strategy exit failed")
			continue
		}
		res.StrategyExits++
	}

	if res.PreCloseWarning {
		m.log.Info().Float64("minutes_left", minutesLeft).Msg("pre-close warning window, no new entries")
	}
	return res, nil
}
