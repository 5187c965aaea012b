// Package orchestrator runs the trading cycle: one pass through the
// priority pyramid every tick, under a single-instance lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/clock"
	"equity-trading-bot/internal/database"
	"equity-trading-bot/internal/exits"
	"equity-trading-bot/internal/lock"
	"equity-trading-bot/internal/pricecache"
	"equity-trading-bot/internal/reconcile"
	"equity-trading-bot/internal/risk"
	"equity-trading-bot/internal/sentinel"
	"equity-trading-bot/internal/universe"
)

// Entry admission tuning per health state.
const (
	minConfidenceGreen  = 60.0
	minConfidenceYellow = 70.0
	maxNewGreen         = 3
	maxNewYellow        = 1
)

// DefaultInterval is the tick period.
const DefaultInterval = 5 * time.Minute

// ErrLockContended surfaces to main as its own exit code.
var ErrLockContended = lock.ErrContended

// Locker is the single-instance guard.
type Locker interface {
	Acquire(ctx context.Context) error
	Release() error
}

// Health is the sentinel surface the cycle drives.
type Health interface {
	Evaluate(ctx context.Context, quickCheckOK bool) (*sentinel.Verdict, error)
	RecordFailure()
	RecordSuccess()
}

// Reconciler aligns the books.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (*reconcile.Report, error)
	QuickCheck(ctx context.Context) (bool, error)
}

// ExitMonitor runs the exit checks.
type ExitMonitor interface {
	Check(ctx context.Context) (*exits.Result, error)
}

// Trader is the executor surface the cycle drives.
type Trader interface {
	CheckPending(ctx context.Context) error
	ExecuteEntry(ctx context.Context, sig *database.Signal, shares int, limitPrice float64) (string, error)
}

// Scanner walks the watch list tiers.
type Scanner interface {
	ScanTier1(ctx context.Context) (*universe.ScanResult, error)
	ScanTier2(ctx context.Context) (*universe.ScanResult, error)
}

// Signals is the signal engine surface for admissions.
type Signals interface {
	GetConfirmedSignals(ctx context.Context, minConfidence float64) ([]database.Signal, error)
	MarkExecuted(ctx context.Context, signalID string) error
	Reject(ctx context.Context, sig *database.Signal, reason string) error
}

// Gate admits entries.
type Gate interface {
	Approve(ctx context.Context, sig *database.Signal, currentPrice, atr float64) (*risk.Decision, error)
}

// Prices supplies quotes and volatility for admissions.
type Prices interface {
	Get(ctx context.Context, ticker string) (*pricecache.Quote, error)
	CleanStale(ctx context.Context) (int, error)
}

// Volatility supplies the ATR input for sizing.
type Volatility interface {
	ATR(ctx context.Context, ticker string) (float64, error)
}

// Exporter mirrors state to the operator sheet. Optional.
type Exporter interface {
	ExportAll(ctx context.Context) error
}

// CycleResult summarizes one tick for the caller.
type CycleResult struct {
	Skipped       bool
	SkipReason    string
	HealthState   string
	Reconcile     string
	Exits         *exits.Result
	EntriesPlaced int
}

// Orchestrator owns the tick loop.
type Orchestrator struct {
	session    *clock.Session
	lock       Locker
	health     Health
	reconciler Reconciler
	exitMon    ExitMonitor
	trader     Trader
	scanner    Scanner
	signals    Signals
	gate       Gate
	prices     Prices
	vol        Volatility
	exporter   Exporter
	interval   time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Session    *clock.Session
	Lock       Locker
	Health     Health
	Reconciler Reconciler
	ExitMon    ExitMonitor
	Trader     Trader
	Scanner    Scanner
	Signals    Signals
	Gate       Gate
	Prices     Prices
	Volatility Volatility
	Exporter   Exporter
	Interval   time.Duration
}

func New(d Deps, logger zerolog.Logger) *Orchestrator {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Orchestrator{
		session:    d.Session,
		lock:       d.Lock,
		health:     d.Health,
		reconciler: d.Reconciler,
		exitMon:    d.ExitMon,
		trader:     d.Trader,
		scanner:    d.Scanner,
		signals:    d.Signals,
		gate:       d.Gate,
		prices:     d.Prices,
		vol:        d.Volatility,
		exporter:   d.Exporter,
		interval:   interval,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.With().Str("component", "orchestrator").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Run ticks until the context is canceled. The first cycle runs
// immediately.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		if err := o.tickOnce(ctx); err != nil {
			if errors.Is(err, lock.ErrContended) {
				return err
			}
			o.log.Error().Err(err).Msg("cycle failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) tickOnce(ctx context.Context) error {
	res, err := o.RunCycle(ctx)
	if err != nil {
		o.health.RecordFailure()
		return err
	}
	o.health.RecordSuccess()
	o.log.Info().Bool("skipped", res.Skipped).Str("health", res.HealthState).
		Int("entries", res.EntriesPlaced).Msg("cycle complete")
	return nil
}

// RunCycle runs one pass of the priority pyramid.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	res := &CycleResult{}
	now := o.now()

	if !o.session.IsMarketOpen(now) {
		res.Skipped = true
		res.SkipReason = "market closed"
		return res, nil
	}

	if err := o.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.lock.Release(); err != nil {
			o.log.Error().Err(err).Msg("lock release failed")
		}
	}()

	quickOK, err := o.reconciler.QuickCheck(ctx)
	if err != nil {
		return nil, fmt.Errorf("quick check: %w", err)
	}
	verdict, err := o.health.Evaluate(ctx, quickOK)
	if err != nil {
		return nil, fmt.Errorf("health evaluate: %w", err)
	}
	res.HealthState = verdict.State

	if verdict.State == database.HealthRed {
		res.Skipped = true
		res.SkipReason = "health RED"
		o.log.Warn().Strs("reasons", verdict.Reasons).Msg("trading halted by sentinel")
		return res, nil
	}

	exitRes, err := o.exitMon.Check(ctx)
	if err != nil {
		return nil, fmt.Errorf("exit monitor: %w", err)
	}
	res.Exits = exitRes

	report, err := o.reconciler.ReconcileAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	res.Reconcile = report.Status
	if report.Status == reconcile.StatusRed {
		res.SkipReason = "reconcile RED"
		o.log.Warn().Strs("details", report.Details).Msg("ledger drift blocks entries")
		return res, nil
	}

	if err := o.trader.CheckPending(ctx); err != nil {
		o.log.Error().Err(err).Msg("pending order check failed")
	}

	if _, err := o.scanner.ScanTier1(ctx); err != nil {
		o.log.Error().Err(err).Msg("tier 1 scan failed")
	}
	if verdict.State == database.HealthGreen {
		if _, err := o.scanner.ScanTier2(ctx); err != nil {
			o.log.Error().Err(err).Msg("tier 2 scan failed")
		}
	}

	if !exitRes.PreCloseWarning {
		placed, err := o.admitEntries(ctx, verdict.State)
		if err != nil {
			return nil, err
		}
		res.EntriesPlaced = placed
	} else {
		o.log.Info().Msg("pre-close window, entries suspended")
	}

	if o.exporter != nil {
		if err := o.exporter.ExportAll(ctx); err != nil {
			o.log.Error().Err(err).Msg("sheet export failed")
		}
	}
	if n, err := o.prices.CleanStale(ctx); err != nil {
		o.log.Error().Err(err).Msg("price cache cleanup failed")
	} else if n > 0 {
		o.log.Debug().Int("removed", n).Msg("stale prices cleaned")
	}

	return res, nil
}

// admitEntries takes the top maxNew confirmed signals by confidence and
// runs each through the risk gate. A denied candidate still spends its
// slot; the budget caps candidates considered, not orders placed.
func (o *Orchestrator) admitEntries(ctx context.Context, health string) (int, error) {
	minConf, maxNew := minConfidenceGreen, maxNewGreen
	if health == database.HealthYellow {
		minConf, maxNew = minConfidenceYellow, maxNewYellow
	}

	signals, err := o.signals.GetConfirmedSignals(ctx, minConf)
	if err != nil {
		return 0, fmt.Errorf("confirmed signals: %w", err)
	}
	if len(signals) > maxNew {
		signals = signals[:maxNew]
	}

	placed := 0
	for i := range signals {
		sig := &signals[i]

		// The quote only proves the ticker is quotable right now; sizing
		// and the order itself use the signal's go-in price.
		if _, err := o.prices.Get(ctx, sig.Ticker); err != nil {
			o.log.Warn().Err(err).Str("signal_id", sig.SignalID).Msg("no quote for entry, deferred")
			continue
		}
		atr, err := o.vol.ATR(ctx, sig.Ticker)
		if err != nil {
			o.log.Warn().Err(err).Str("signal_id", sig.SignalID).Msg("no ATR for entry, deferred")
			continue
		}

		decision, err := o.gate.Approve(ctx, sig, sig.GoInPrice, atr)
		if err != nil {
			return placed, fmt.Errorf("gate approve %s: %w", sig.SignalID, err)
		}
		if !decision.Approved {
			if err := o.signals.Reject(ctx, sig, decision.Reason); err != nil {
				o.log.Error().Err(err).Str("signal_id", sig.SignalID).Msg("reject transition failed")
			}
			continue
		}

		if _, err := o.trader.ExecuteEntry(ctx, sig, decision.Shares, sig.GoInPrice); err != nil {
			o.log.Error().Err(err).Str("signal_id", sig.SignalID).Msg("entry failed, retried next cycle")
			continue
		}
		if err := o.signals.MarkExecuted(ctx, sig.SignalID); err != nil {
			o.log.Error().Err(err).Str("signal_id", sig.SignalID).Msg("executed transition failed")
		}
		placed++
	}
	return placed, nil
}
