// Package executor turns approved signals and exit decisions into broker
// orders and keeps the local book consistent with what actually fills.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"equity-trading-bot/internal/broker"
	"equity-trading-bot/internal/database"
)

// Exit reasons recorded on closed trades.
const (
	ExitStopLoss   = "STOP_LOSS"
	ExitTakeProfit = "TAKE_PROFIT"
	ExitStrategy   = "STRATEGY_EXIT"
	ExitForceClose = "FORCE_CLOSE"
)

const (
	ticketPrefix = "TKT-"

	// an entry order still unfilled after this long is canceled
	pendingEntryTimeout = 10 * time.Minute

	partialFillThreshold = 0.99
)

// Store is the persistence surface the executor needs.
type Store interface {
	InsertPosition(ctx context.Context, p *database.Position) error
	ArchivePosition(ctx context.Context, ticketID string, exitPrice float64, exitTime time.Time, exitReason string) (*database.TradeRecord, error)
	MarkClosing(ctx context.Context, ticketID, exitSignal string) (bool, error)
	InsertExecutionQuality(ctx context.Context, q *database.ExecutionQuality) error
	LogError(ctx context.Context, component, message, severity string) error
}

// Cooldowns locks a pair out after an exit.
type Cooldowns interface {
	Set(ctx context.Context, ticker, strategy, reason string) error
}

// pendingKind distinguishes what a tracked order settles into.
type pendingKind int

const (
	kindEntry pendingKind = iota
	kindExit
)

// pendingOrder is one in-flight broker order.
type pendingOrder struct {
	OrderID       string
	TicketID      string
	Kind          pendingKind
	Ticker        string
	Strategy      string
	SignalID      string
	Shares        float64
	ExpectedPrice float64
	StopLoss      float64
	ExitReason    string
	SubmittedAt   time.Time
}

// Executor submits orders and settles their fills into the position book.
type Executor struct {
	trading   broker.TradingClient
	store     Store
	cooldowns Cooldowns
	now       func() time.Time
	log       zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingOrder
}

func New(trading broker.TradingClient, store Store, cooldowns Cooldowns, logger zerolog.Logger) *Executor {
	return &Executor{
		trading:   trading,
		store:     store,
		cooldowns: cooldowns,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.With().Str("component", "executor").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

// NewTicket returns a fresh TKT- ticket id.
func NewTicket() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return ticketPrefix + strings.ToUpper(raw[:8])
}

// PendingCount returns how many orders are awaiting settlement.
func (e *Executor) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// ExecuteEntry submits a day limit buy for an approved signal. The ticket id
// doubles as the broker client order id so fills survive a restart.
func (e *Executor) ExecuteEntry(ctx context.Context, sig *database.Signal, shares int, limitPrice float64) (string, error) {
	ticket := NewTicket()
	order, err := e.trading.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:        sig.Ticker,
		Qty:           float64(shares),
		Side:          broker.SideBuy,
		Type:          broker.TypeLimit,
		LimitPrice:    limitPrice,
		TimeInForce:   broker.TIFDay,
		ClientOrderID: ticket,
	})
	if err != nil {
		e.store.LogError(ctx, "executor", fmt.Sprintf("entry order %s: %v", sig.Ticker, err), "ERROR")
		return "", fmt.Errorf("entry order %s: %w", sig.Ticker, err)
	}

	p := &pendingOrder{
		OrderID:       order.ID,
		TicketID:      ticket,
		Kind:          kindEntry,
		Ticker:        sig.Ticker,
		Strategy:      sig.Strategy,
		SignalID:      sig.SignalID,
		Shares:        float64(shares),
		ExpectedPrice: limitPrice,
		StopLoss:      sig.StopLoss,
		SubmittedAt:   e.now(),
	}
	e.track(p)
	e.log.Info().Str("ticket_id", ticket).Str("ticker", sig.Ticker).
		Int("shares", shares).Float64("limit", limitPrice).Msg("entry order submitted")

	if order.Terminal() {
		return ticket, e.settle(ctx, p, order)
	}
	return ticket, nil
}

// ExecuteExit closes a position. Exits always go out as market orders so a
// gapping stop cannot strand the position. MarkClosing is the duplicate
// guard: a position already CLOSING is skipped.
func (e *Executor) ExecuteExit(ctx context.Context, pos *database.Position, reason string, expectedPrice float64) error {
	marked, err := e.store.MarkClosing(ctx, pos.TicketID, reason)
	if err != nil {
		return fmt.Errorf("exit %s: %w", pos.TicketID, err)
	}
	if !marked {
		return nil
	}

	order, err := e.trading.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:        pos.Ticker,
		Qty:           pos.Quantity,
		Side:          broker.SideSell,
		Type:          broker.TypeMarket,
		TimeInForce:   broker.TIFDay,
		ClientOrderID: pos.TicketID + "-X",
	})
	if err != nil {
		e.store.LogError(ctx, "executor", fmt.Sprintf("exit order %s: %v", pos.Ticker, err), "CRITICAL")
		return fmt.Errorf("exit order %s: %w", pos.Ticker, err)
	}

	p := &pendingOrder{
		OrderID:       order.ID,
		TicketID:      pos.TicketID,
		Kind:          kindExit,
		Ticker:        pos.Ticker,
		Strategy:      pos.Strategy,
		Shares:        pos.Quantity,
		ExpectedPrice: expectedPrice,
		ExitReason:    reason,
		SubmittedAt:   e.now(),
	}
	e.track(p)
	e.log.Info().Str("ticket_id", pos.TicketID).Str("ticker", pos.Ticker).
		Str("reason", reason).Msg("exit order submitted")

	if order.Terminal() {
		return e.settle(ctx, p, order)
	}
	return nil
}

// ExecuteStrategyExit sells a position that is already CLOSING, as a day
// limit order at the desired price. A CLOSING position whose exit signal is
// a stop loss is a failed stop retry and goes out as a market order. A
// position with an order still in flight is left alone.
func (e *Executor) ExecuteStrategyExit(ctx context.Context, pos *database.Position, limitPrice float64) error {
	if e.hasPendingTicket(pos.TicketID) {
		return nil
	}

	reason := ExitStrategy
	if pos.ExitSignal != nil && *pos.ExitSignal != "" {
		reason = *pos.ExitSignal
	}

	req := broker.OrderRequest{
		Symbol:        pos.Ticker,
		Qty:           pos.Quantity,
		Side:          broker.SideSell,
		Type:          broker.TypeLimit,
		LimitPrice:    limitPrice,
		TimeInForce:   broker.TIFDay,
		ClientOrderID: pos.TicketID + "-X",
	}
	if reason == ExitStopLoss {
		req.Type = broker.TypeMarket
		req.LimitPrice = 0
	}

	order, err := e.trading.SubmitOrder(ctx, req)
	if err != nil {
		e.store.LogError(ctx, "executor", fmt.Sprintf("strategy exit %s: %v", pos.Ticker, err), "ERROR")
		return fmt.Errorf("strategy exit %s: %w", pos.Ticker, err)
	}

	p := &pendingOrder{
		OrderID:       order.ID,
		TicketID:      pos.TicketID,
		Kind:          kindExit,
		Ticker:        pos.Ticker,
		Strategy:      pos.Strategy,
		Shares:        pos.Quantity,
		ExpectedPrice: limitPrice,
		ExitReason:    reason,
		SubmittedAt:   e.now(),
	}
	e.track(p)
	e.log.Info().Str("ticket_id", pos.TicketID).Float64("limit", limitPrice).Msg("strategy exit submitted")

	if order.Terminal() {
		return e.settle(ctx, p, order)
	}
	return nil
}

func (e *Executor) hasPendingTicket(ticketID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pending {
		if p.TicketID == ticketID {
			return true
		}
	}
	return false
}

// CheckPending polls every in-flight order and settles the ones that have
// reached a terminal state. Entry orders older than the timeout are
// canceled.
func (e *Executor) CheckPending(ctx context.Context) error {
	e.mu.Lock()
	snapshot := make([]*pendingOrder, 0, len(e.pending))
	for _, p := range e.pending {
		snapshot = append(snapshot, p)
	}
	e.mu.Unlock()

	var firstErr error
	for _, p := range snapshot {
		order, err := e.trading.GetOrder(ctx, p.OrderID)
		if err != nil {
			e.log.Error().Err(err).Str("order_id", p.OrderID).Msg("pending order poll failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if order.Terminal() {
			if err := e.settle(ctx, p, order); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}

		if p.Kind == kindEntry && e.now().Sub(p.SubmittedAt) > pendingEntryTimeout {
			if err := e.trading.CancelOrder(ctx, p.OrderID); err != nil {
				e.log.Error().Err(err).Str("order_id", p.OrderID).Msg("stale entry cancel failed")
			} else {
				e.log.Info().Str("ticket_id", p.TicketID).Msg("stale entry order canceled")
			}
		}
	}
	return firstErr
}

// Recover rebuilds the pending map from the broker's open orders after a
// restart. Only orders carrying our ticket prefix are adopted.
func (e *Executor) Recover(ctx context.Context) error {
	orders, err := e.trading.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("recover open orders: %w", err)
	}

	adopted := 0
	for _, o := range orders {
		if !strings.HasPrefix(o.ClientOrderID, ticketPrefix) {
			continue
		}
		ticket, kind := o.ClientOrderID, kindEntry
		if strings.HasSuffix(o.ClientOrderID, "-X") {
			ticket = strings.TrimSuffix(o.ClientOrderID, "-X")
			kind = kindExit
		}
		e.track(&pendingOrder{
			OrderID:       o.ID,
			TicketID:      ticket,
			Kind:          kind,
			Ticker:        o.Symbol,
			Shares:        o.Qty,
			ExpectedPrice: o.LimitPrice,
			SubmittedAt:   o.SubmittedAt,
		})
		adopted++
	}
	if adopted > 0 {
		e.log.Info().Int("count", adopted).Msg("pending orders recovered from broker")
	}
	return nil
}

func (e *Executor) track(p *pendingOrder) {
	e.mu.Lock()
	if e.pending == nil {
		e.pending = make(map[string]*pendingOrder)
	}
	e.pending[p.OrderID] = p
	e.mu.Unlock()
}

func (e *Executor) untrack(orderID string) {
	e.mu.Lock()
	delete(e.pending, orderID)
	e.mu.Unlock()
}

// settle applies one terminal order to the book.
func (e *Executor) settle(ctx context.Context, p *pendingOrder, order *broker.Order) error {
	defer e.untrack(p.OrderID)

	if order.Status != broker.OrderFilled {
		e.log.Warn().Str("ticket_id", p.TicketID).Str("status", order.Status).Msg("order ended unfilled")
		if p.Kind == kindExit {
			// the position stays CLOSING; the next cycle retries the exit
			e.store.LogError(ctx, "executor", fmt.Sprintf("exit order %s ended %s", p.TicketID, order.Status), "CRITICAL")
		}
		return nil
	}

	e.recordQuality(ctx, p, order)

	switch p.Kind {
	case kindEntry:
		pos := &database.Position{
			TicketID:     p.TicketID,
			Ticker:       p.Ticker,
			Strategy:     p.Strategy,
			EntryTime:    e.now(),
			EntryPrice:   order.FilledAvgPrice,
			Quantity:     order.FilledQty,
			CurrentPrice: order.FilledAvgPrice,
			StopLoss:     p.StopLoss,
			Status:       database.PositionOpen,
		}
		if err := e.store.InsertPosition(ctx, pos); err != nil {
			return fmt.Errorf("settle entry %s: %w", p.TicketID, err)
		}
		e.log.Info().Str("ticket_id", p.TicketID).Float64("fill", order.FilledAvgPrice).
			Float64("qty", order.FilledQty).Msg("entry filled")

	case kindExit:
		trade, err := e.store.ArchivePosition(ctx, p.TicketID, order.FilledAvgPrice, e.now(), p.ExitReason)
		if err != nil {
			return fmt.Errorf("settle exit %s: %w", p.TicketID, err)
		}
		if err := e.cooldowns.Set(ctx, p.Ticker, p.Strategy, p.ExitReason); err != nil {
			e.log.Error().Err(err).Str("ticker", p.Ticker).Msg("post-exit cooldown failed")
		}
		e.log.Info().Str("ticket_id", p.TicketID).Str("reason", p.ExitReason).
			Float64("pnl_pct", trade.PnLPct).Msg("exit filled")
	}
	return nil
}

// recordQuality writes the slippage row for a fill. Slippage is signed so
// that positive always means the fill was worse than expected.
func (e *Executor) recordQuality(ctx context.Context, p *pendingOrder, order *broker.Order) {
	if p.ExpectedPrice <= 0 || p.Shares <= 0 {
		return
	}
	slippage := (order.FilledAvgPrice - p.ExpectedPrice) / p.ExpectedPrice
	if order.Side == broker.SideSell {
		slippage = -slippage
	}
	ratio := order.FilledQty / p.Shares

	q := &database.ExecutionQuality{
		TicketID:      p.TicketID,
		Ticker:        p.Ticker,
		Timestamp:     e.now(),
		ExpectedPrice: p.ExpectedPrice,
		ActualPrice:   order.FilledAvgPrice,
		SlippagePct:   slippage,
		ExpectedQty:   p.Shares,
		ActualQty:     order.FilledQty,
		FillRatio:     ratio,
		PartialFill:   ratio < partialFillThreshold,
		OrderType:     order.Type,
		Side:          order.Side,
	}
	if err := e.store.InsertExecutionQuality(ctx, q); err != nil {
		e.log.Error().Err(err).Str("ticket_id", p.TicketID).Msg("execution quality write failed")
	}
}
