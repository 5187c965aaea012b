// Package risk is the final pre-trade gate. Every confirmed signal passes
// through every check here before an order is allowed out.
package risk

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/database"
	"equity-trading-bot/internal/sizer"
)

// Denial reasons
const (
	DenyIgnored        = "TICKER_IGNORED"
	DenyCooldown       = "ON_COOLDOWN"
	DenyPositionExists = "POSITION_EXISTS"
	DenyMaxPositions   = "MAX_POSITIONS"
	DenyDailyLimit     = "DAILY_LIMIT"
	DenyZeroShares     = "ZERO_SHARES"
	DenyRisk           = "RISK_TOO_LARGE"
)

// Positions is the position-book surface the gate needs.
type Positions interface {
	GetActivePositions(ctx context.Context) ([]database.Position, error)
	GetActivePosition(ctx context.Context, ticker string) (*database.Position, error)
	OpenNotional(ctx context.Context) (float64, error)
}

// Ignores answers whether a pair is quarantined.
type Ignores interface {
	IsIgnored(ctx context.Context, ticker, strategy string) (bool, error)
}

// Cooldowns answers whether a pair is locked out.
type Cooldowns interface {
	IsOnCooldown(ctx context.Context, ticker, strategy string) (bool, error)
}

// Limits answers whether the day's P&L still permits trading.
type Limits interface {
	CanTrade(ctx context.Context) (bool, string, error)
}

// Decision is the gate's answer for one signal.
type Decision struct {
	Approved bool
	Shares   int
	Reason   string
}

// Gate runs the composite pre-trade checks.
type Gate struct {
	positions    Positions
	ignores      Ignores
	cooldowns    Cooldowns
	limits       Limits
	sizer        *sizer.Sizer
	capital      float64
	maxPositions int
	log          zerolog.Logger
}

func NewGate(positions Positions, ignores Ignores, cooldowns Cooldowns, limits Limits, sz *sizer.Sizer, capital float64, maxPositions int, logger zerolog.Logger) *Gate {
	return &Gate{
		positions:    positions,
		ignores:      ignores,
		cooldowns:    cooldowns,
		limits:       limits,
		sizer:        sz,
		capital:      capital,
		maxPositions: maxPositions,
		log:          logger.With().Str("component", "risk").Logger(),
	}
}

// Approve runs every check against one confirmed signal at the current
// price. Sizing uses the capital left after open notional, which assumes the
// caller executes each approval before requesting the next one.
func (g *Gate) Approve(ctx context.Context, sig *database.Signal, currentPrice, atr float64) (*Decision, error) {
	deny := func(reason string) *Decision {
		g.log.Info().Str("signal_id", sig.SignalID).Str("reason", reason).Msg("entry denied")
		return &Decision{Approved: false, Reason: reason}
	}

	if ignored, err := g.ignores.IsIgnored(ctx, sig.Ticker, sig.Strategy); err != nil {
		return nil, fmt.Errorf("gate ignore check: %w", err)
	} else if ignored {
		return deny(DenyIgnored), nil
	}

	if on, err := g.cooldowns.IsOnCooldown(ctx, sig.Ticker, sig.Strategy); err != nil {
		return nil, fmt.Errorf("gate cooldown check: %w", err)
	} else if on {
		return deny(DenyCooldown), nil
	}

	if pos, err := g.positions.GetActivePosition(ctx, sig.Ticker); err != nil {
		return nil, fmt.Errorf("gate position check: %w", err)
	} else if pos != nil {
		return deny(DenyPositionExists), nil
	}

	active, err := g.positions.GetActivePositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("gate position count: %w", err)
	}
	if len(active) >= g.maxPositions {
		return deny(DenyMaxPositions), nil
	}

	if ok, reason, err := g.limits.CanTrade(ctx); err != nil {
		return nil, fmt.Errorf("gate daily limit: %w", err)
	} else if !ok {
		return deny(DenyDailyLimit + ": " + reason), nil
	}

	notional, err := g.positions.OpenNotional(ctx)
	if err != nil {
		return nil, fmt.Errorf("gate open notional: %w", err)
	}
	available := g.capital - notional
	shares := g.sizer.Shares(currentPrice, sig.Confidence, atr, available)
	if shares < 1 {
		return deny(DenyZeroShares), nil
	}

	if !g.sizer.ValidateRisk(currentPrice, sig.StopLoss, shares, g.capital) {
		return deny(DenyRisk), nil
	}

	g.log.Info().Str("signal_id", sig.SignalID).Int("shares", shares).
		Float64("available", available).Msg("entry approved")
	return &Decision{Approved: true, Shares: shares}, nil
}
