// Package reconcile diffs the local position ledger against the broker's
// book, heals safe drift, and escalates anything that moved real shares.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/broker"
	"equity-trading-bot/internal/database"
)

// Run statuses, worst first. DEGRADED marks healed price drift.
const (
	StatusRed      = "RED"
	StatusYellow   = "YELLOW"
	StatusDegraded = "DEGRADED"
	StatusGreen    = "GREEN"
)

const (
	priceTolerancePct = 0.02

	// the strategy tag on positions adopted from the broker
	StrategyReconciled = "RECONCILED"
)

// Store is the persistence surface the reconciler needs.
type Store interface {
	GetActivePositions(ctx context.Context) ([]database.Position, error)
	InsertPosition(ctx context.Context, p *database.Position) error
	HealEntryPrice(ctx context.Context, ticketID string, price float64) error
	AppendHealth(ctx context.Context, h *database.HealthRecord) error
	LogError(ctx context.Context, component, message, severity string) error
}

// Report summarizes one reconciliation run.
type Report struct {
	Status           string
	Matched          int
	MismatchPrice    int
	MismatchQuantity int
	MissingInBroker  int
	MissingInLocal   int
	Details          []string
}

// Reconciler aligns the local ledger with the broker.
type Reconciler struct {
	trading broker.TradingClient
	store   Store
	now     func() time.Time
	log     zerolog.Logger
}

func New(trading broker.TradingClient, store Store, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		trading: trading,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.With().Str("component", "reconcile").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// reconciledTicket builds the ticket for a position adopted from the broker.
func reconciledTicket(ticker string, at time.Time) string {
	return fmt.Sprintf("RCL-%s-%s", ticker, at.UTC().Format("20060102150405"))
}

// ReconcileAll classifies every ticker into one of five buckets, heals what
// is safe to heal, and appends the outcome to the health log. Quantity
// drift and positions the broker has lost are never healed automatically.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*Report, error) {
	local, err := r.store.GetActivePositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile local book: %w", err)
	}
	remote, err := r.trading.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile broker book: %w", err)
	}

	localBy := make(map[string]*database.Position, len(local))
	for i := range local {
		localBy[local[i].Ticker] = &local[i]
	}
	remoteBy := make(map[string]*broker.Position, len(remote))
	for i := range remote {
		remoteBy[remote[i].Symbol] = &remote[i]
	}

	rep := &Report{Status: StatusGreen}
	now := r.now()

	for ticker, lp := range localBy {
		bp, ok := remoteBy[ticker]
		if !ok {
			rep.MissingInBroker++
			rep.Details = append(rep.Details, fmt.Sprintf("%s missing at broker (local qty %.0f)", ticker, lp.Quantity))
			r.store.LogError(ctx, "reconcile", fmt.Sprintf("position %s missing at broker", ticker), "CRITICAL")
			continue
		}

		if lp.Quantity != bp.Qty {
			rep.MismatchQuantity++
			rep.Details = append(rep.Details, fmt.Sprintf("%s qty local %.0f vs broker %.0f", ticker, lp.Quantity, bp.Qty))
			r.store.LogError(ctx, "reconcile", fmt.Sprintf("quantity drift on %s", ticker), "CRITICAL")
			continue
		}

		if bp.AvgEntryPrice > 0 && math.Abs(lp.EntryPrice-bp.AvgEntryPrice)/bp.AvgEntryPrice > priceTolerancePct {
			rep.MismatchPrice++
			rep.Details = append(rep.Details, fmt.Sprintf("%s entry healed %.2f -> %.2f", ticker, lp.EntryPrice, bp.AvgEntryPrice))
			if err := r.store.HealEntryPrice(ctx, lp.TicketID, bp.AvgEntryPrice); err != nil {
				return nil, fmt.Errorf("heal entry price %s: %w", lp.TicketID, err)
			}
			continue
		}

		rep.Matched++
	}

	for ticker, bp := range remoteBy {
		if _, ok := localBy[ticker]; ok {
			continue
		}
		rep.MissingInLocal++
		pos := &database.Position{
			TicketID:     reconciledTicket(ticker, now),
			Ticker:       ticker,
			Strategy:     StrategyReconciled,
			EntryTime:    now,
			EntryPrice:   bp.AvgEntryPrice,
			Quantity:     bp.Qty,
			CurrentPrice: bp.CurrentPrice,
			StopLoss:     0,
			Status:       database.PositionOpen,
		}
		if err := r.store.InsertPosition(ctx, pos); err != nil {
			return nil, fmt.Errorf("adopt broker position %s: %w", ticker, err)
		}
		rep.Details = append(rep.Details, fmt.Sprintf("%s adopted from broker as %s", ticker, pos.TicketID))
	}

	switch {
	case rep.MismatchQuantity > 0 || rep.MissingInBroker > 0:
		rep.Status = StatusRed
	case rep.MissingInLocal > 0:
		rep.Status = StatusYellow
	case rep.MismatchPrice > 0:
		rep.Status = StatusDegraded
	}

	h := &database.HealthRecord{
		Timestamp: now,
		State:     rep.Status,
		Reason:    r.summary(rep),
	}
	if err := r.store.AppendHealth(ctx, h); err != nil {
		return nil, fmt.Errorf("reconcile health row: %w", err)
	}

	if rep.Status != StatusGreen {
		r.log.Warn().Str("status", rep.Status).Strs("details", rep.Details).Msg("reconciliation drift")
	} else {
		r.log.Debug().Int("matched", rep.Matched).Msg("books reconciled")
	}
	return rep, nil
}

// QuickCheck is the O(1) invariant the sentinel polls between full runs:
// both books hold the same number of tickers.
func (r *Reconciler) QuickCheck(ctx context.Context) (bool, error) {
	local, err := r.store.GetActivePositions(ctx)
	if err != nil {
		return false, err
	}
	remote, err := r.trading.ListPositions(ctx)
	if err != nil {
		return false, err
	}
	return len(local) == len(remote), nil
}

func (r *Reconciler) summary(rep *Report) string {
	s := fmt.Sprintf("reconcile %s: %d matched, %d price, %d qty, %d missing_broker, %d missing_local",
		strings.ToLower(rep.Status), rep.Matched, rep.MismatchPrice, rep.MismatchQuantity,
		rep.MissingInBroker, rep.MissingInLocal)
	if len(rep.Details) > 0 {
		s += "; " + strings.Join(rep.Details, "; ")
	}
	return s
}
