// Package signal maintains the KIV -> CONFIRMED -> EXECUTED/EXPIRED/REJECTED
// state machine.
package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/cooldown"
	"equity-trading-bot/internal/database"
)

// AddToKIV outcomes
const (
	StatusAdded    = "ADDED"
	StatusExists   = "EXISTS"
	StatusRejected = "REJECTED"
)

// Rejection and expiry reasons
const (
	ReasonCooldown      = "COOLDOWN"
	ReasonExpired       = "EXPIRED"
	ReasonInvalidPrices = "INVALID_PRICES"
	ReasonNoSignal      = "NO_SIGNAL"
)

// Store is the persistence surface the processor needs.
type Store interface {
	InsertKIV(ctx context.Context, s *database.Signal) (bool, error)
	GetActiveSignal(ctx context.Context, ticker, strategy string) (*database.Signal, error)
	GetNewestKIV(ctx context.Context, ticker, strategy string) (*database.Signal, error)
	TransitionSignal(ctx context.Context, signalID, from, to string) (bool, error)
	ExpireConfirmedOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	GetConfirmedSignals(ctx context.Context, minConfidence float64) ([]database.Signal, error)
}

// Cooldowns is the re-entry lockout surface.
type Cooldowns interface {
	IsOnCooldown(ctx context.Context, ticker, strategy string) (bool, error)
	Set(ctx context.Context, ticker, strategy, reason string) error
}

// Prices is the entry triple plus trigger context for a new KIV signal.
type Prices struct {
	TriggerPrice  float64
	ReboundBottom float64
	GoInPrice     float64
	ProfitTarget  float64
	StopLoss      float64
}

// valid enforces stop < entry < target and rebound <= entry.
func (p Prices) valid() bool {
	return p.StopLoss < p.GoInPrice &&
		p.GoInPrice < p.ProfitTarget &&
		p.ReboundBottom <= p.GoInPrice &&
		p.ReboundBottom > 0
}

// AddResult reports the outcome of AddToKIV.
type AddResult struct {
	Status   string
	SignalID string
	Reason   string
}

// Confirmation reports the outcome of CheckConfirmation.
type Confirmation struct {
	Confirmed bool
	Reason    string
	Signal    *database.Signal
}

// Processor advances the signal state machine.
type Processor struct {
	store            Store
	cooldowns        Cooldowns
	kivTimeout       time.Duration
	confirmedTimeout time.Duration
	bouncePct        float64
	now              func() time.Time
	log              zerolog.Logger
}

func NewProcessor(store Store, cooldowns Cooldowns, kivTimeout, confirmedTimeout time.Duration, bouncePct float64, logger zerolog.Logger) *Processor {
	return &Processor{
		store:            store,
		cooldowns:        cooldowns,
		kivTimeout:       kivTimeout,
		confirmedTimeout: confirmedTimeout,
		bouncePct:        bouncePct,
		now:              func() time.Time { return time.Now().UTC() },
		log:              logger.With().Str("component", "signal").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// SignalID builds the deterministic hourly-bucket id.
func SignalID(ticker, strategy string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s", ticker, strategy, t.UTC().Format("2006010215"))
}

// AddToKIV inserts a new KIV signal. Duplicate inserts within the same
// hourly bucket and an already-active pair both return EXISTS; a pair on
// cooldown returns REJECTED.
func (p *Processor) AddToKIV(ctx context.Context, ticker, strategy string, prices Prices, confidence float64) (*AddResult, error) {
	if !prices.valid() {
		return &AddResult{Status: StatusRejected, Reason: ReasonInvalidPrices}, nil
	}

	on, err := p.cooldowns.IsOnCooldown(ctx, ticker, strategy)
	if err != nil {
		return nil, fmt.Errorf("add to KIV %s/%s: %w", ticker, strategy, err)
	}
	if on {
		return &AddResult{Status: StatusRejected, Reason: ReasonCooldown}, nil
	}

	if active, err := p.store.GetActiveSignal(ctx, ticker, strategy); err != nil {
		return nil, fmt.Errorf("add to KIV %s/%s: %w", ticker, strategy, err)
	} else if active != nil {
		return &AddResult{Status: StatusExists, SignalID: active.SignalID}, nil
	}

	now := p.now()
	sig := &database.Signal{
		SignalID:      SignalID(ticker, strategy, now),
		Ticker:        ticker,
		Strategy:      strategy,
		TriggerTime:   now,
		TriggerPrice:  prices.TriggerPrice,
		ReboundBottom: prices.ReboundBottom,
		GoInPrice:     prices.GoInPrice,
		ProfitTarget:  prices.ProfitTarget,
		StopLoss:      prices.StopLoss,
		Confidence:    confidence,
		Status:        database.SignalKIV,
	}

	inserted, err := p.store.InsertKIV(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("add to KIV %s/%s: %w", ticker, strategy, err)
	}
	if !inserted {
		return &AddResult{Status: StatusExists, SignalID: sig.SignalID}, nil
	}

	p.log.Info().Str("signal_id", sig.SignalID).Float64("confidence", confidence).
		Float64("go_in", prices.GoInPrice).Msg("KIV signal added")
	return &AddResult{Status: StatusAdded, SignalID: sig.SignalID}, nil
}

// CheckConfirmation inspects the newest KIV for the pair. A KIV past its
// timeout expires; a bounce at or above rebound_bottom * (1 + bouncePct)
// confirms.
func (p *Processor) CheckConfirmation(ctx context.Context, ticker, strategy string, currentPrice float64) (*Confirmation, error) {
	sig, err := p.store.GetNewestKIV(ctx, ticker, strategy)
	if err != nil {
		return nil, fmt.Errorf("check confirmation %s/%s: %w", ticker, strategy, err)
	}
	if sig == nil {
		return &Confirmation{Confirmed: false, Reason: ReasonNoSignal}, nil
	}

	now := p.now()
	if now.Sub(sig.TriggerTime) >= p.kivTimeout {
		if _, err := p.store.TransitionSignal(ctx, sig.SignalID, database.SignalKIV, database.SignalExpired); err != nil {
			return nil, err
		}
		p.log.Info().Str("signal_id", sig.SignalID).Msg("KIV signal expired")
		return &Confirmation{Confirmed: false, Reason: ReasonExpired}, nil
	}

	threshold := sig.ReboundBottom * (1 + p.bouncePct)
	if currentPrice < threshold {
		return &Confirmation{Confirmed: false, Signal: sig}, nil
	}

	moved, err := p.store.TransitionSignal(ctx, sig.SignalID, database.SignalKIV, database.SignalConfirmed)
	if err != nil {
		return nil, err
	}
	if !moved {
		// Lost a race with another transition; report the current state.
		return &Confirmation{Confirmed: false, Signal: sig}, nil
	}

	p.log.Info().Str("signal_id", sig.SignalID).Float64("price", currentPrice).
		Float64("threshold", threshold).Msg("signal confirmed")
	sig.Status = database.SignalConfirmed
	return &Confirmation{Confirmed: true, Signal: sig}, nil
}

// GetConfirmedSignals expires stale CONFIRMED rows, then returns the active
// ones at or above the confidence floor, highest first. The expiry deadline
// is measured from trigger_time.
func (p *Processor) GetConfirmedSignals(ctx context.Context, minConfidence float64) ([]database.Signal, error) {
	cutoff := p.now().Add(-p.confirmedTimeout)
	expired, err := p.store.ExpireConfirmedOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if expired > 0 {
		p.log.Info().Int("count", expired).Msg("confirmed signals expired")
	}
	return p.store.GetConfirmedSignals(ctx, minConfidence)
}

// MarkExecuted moves a CONFIRMED signal to its terminal EXECUTED state.
func (p *Processor) MarkExecuted(ctx context.Context, signalID string) error {
	moved, err := p.store.TransitionSignal(ctx, signalID, database.SignalConfirmed, database.SignalExecuted)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("mark executed %s: signal not CONFIRMED", signalID)
	}
	p.log.Info().Str("signal_id", signalID).Msg("signal executed")
	return nil
}

// Reject moves a CONFIRMED signal to REJECTED and sets the short re-entry
// cooldown for the pair.
func (p *Processor) Reject(ctx context.Context, sig *database.Signal, reason string) error {
	moved, err := p.store.TransitionSignal(ctx, sig.SignalID, database.SignalConfirmed, database.SignalRejected)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("reject %s: signal not CONFIRMED", sig.SignalID)
	}
	if err := p.cooldowns.Set(ctx, sig.Ticker, sig.Strategy, cooldown.ReasonRejected); err != nil {
		return err
	}
	p.log.Info().Str("signal_id", sig.SignalID).Str("reason", reason).Msg("signal rejected")
	return nil
}
