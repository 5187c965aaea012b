package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/broker"
	"equity-trading-bot/internal/database"
)

type fakeStore struct {
	positions map[string]*database.Position
	trades    []database.TradeRecord
	quality   []database.ExecutionQuality
	errors    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: make(map[string]*database.Position)}
}

func (f *fakeStore) InsertPosition(ctx context.Context, p *database.Position) error {
	cp := *p
	f.positions[p.TicketID] = &cp
	return nil
}

func (f *fakeStore) ArchivePosition(ctx context.Context, ticketID string, exitPrice float64, exitTime time.Time, exitReason string) (*database.TradeRecord, error) {
	pos := f.positions[ticketID]
	pnl := (exitPrice - pos.EntryPrice) / pos.EntryPrice
	trade := database.TradeRecord{
		TicketID: ticketID, Ticker: pos.Ticker, Strategy: pos.Strategy,
		EntryPrice: pos.EntryPrice, ExitPrice: exitPrice, Quantity: pos.Quantity,
		PnLPct: pnl, ExitReason: exitReason, ExitTime: exitTime,
	}
	pos.Status = database.PositionClosed
	f.trades = append(f.trades, trade)
	return &trade, nil
}

func (f *fakeStore) MarkClosing(ctx context.Context, ticketID, exitSignal string) (bool, error) {
	pos, ok := f.positions[ticketID]
	if !ok || pos.Status != database.PositionOpen {
		return false, nil
	}
	pos.Status = database.PositionClosing
	return true, nil
}

func (f *fakeStore) InsertExecutionQuality(ctx context.Context, q *database.ExecutionQuality) error {
	f.quality = append(f.quality, *q)
	return nil
}

func (f *fakeStore) LogError(ctx context.Context, component, message, severity string) error {
	f.errors = append(f.errors, message)
	return nil
}

type fakeCooldowns struct{ set []string }

func (f *fakeCooldowns) Set(ctx context.Context, ticker, strategy, reason string) error {
	f.set = append(f.set, ticker+"/"+strategy+"/"+reason)
	return nil
}

func testSignal() *database.Signal {
	return &database.Signal{
		SignalID: "ACME_RSI_2026082414", Ticker: "ACME", Strategy: "RSI",
		GoInPrice: 10.20, ProfitTarget: 10.70, StopLoss: 9.80, Confidence: 75,
	}
}

func TestNewTicket(t *testing.T) {
	a, b := NewTicket(), NewTicket()
	if !strings.HasPrefix(a, "TKT-") || len(a) != 12 {
		t.Errorf("ticket %q should be TKT- plus 8 hex chars", a)
	}
	if a == b {
		t.Error("tickets should be unique")
	}
}

func TestExecuteEntryFillsImmediately(t *testing.T) {
	mock := broker.NewMockClient()
	mock.SetPrice("ACME", 10.15)
	store := newFakeStore()
	e := New(mock, store, &fakeCooldowns{}, zerolog.Nop())

	// limit 10.20 against a 10.15 market crosses and fills at the limit
	ticket, err := e.ExecuteEntry(context.Background(), testSignal(), 100, 10.20)
	if err != nil {
		t.Fatalf("ExecuteEntry: %v", err)
	}

	pos, ok := store.positions[ticket]
	if !ok {
		t.Fatal("no position inserted")
	}
	if pos.EntryPrice != 10.20 || pos.Quantity != 100 {
		t.Errorf("position = %.2f x %.0f, want 10.20 x 100", pos.EntryPrice, pos.Quantity)
	}
	if pos.Status != database.PositionOpen {
		t.Errorf("status = %s, want OPEN", pos.Status)
	}
	if e.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0 after immediate fill", e.PendingCount())
	}
	if len(store.quality) != 1 {
		t.Fatalf("quality rows = %d, want 1", len(store.quality))
	}
	if store.quality[0].PartialFill {
		t.Error("full fill marked partial")
	}
}

func TestExecuteEntryParksBelowMarket(t *testing.T) {
	mock := broker.NewMockClient()
	mock.SetPrice("ACME", 10.50)
	store := newFakeStore()
	e := New(mock, store, &fakeCooldowns{}, zerolog.Nop())

	if _, err := e.ExecuteEntry(context.Background(), testSignal(), 100, 10.20); err != nil {
		t.Fatalf("ExecuteEntry: %v", err)
	}
	if e.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", e.PendingCount())
	}
	if len(store.positions) != 0 {
		t.Error("no position should exist before the fill")
	}

	open, _ := mock.ListOpenOrders(context.Background())
	if err := mock.FillOrder(open[0].ID, 10.18); err != nil {
		t.Fatalf("FillOrder: %v", err)
	}
	if err := e.CheckPending(context.Background()); err != nil {
		t.Fatalf("CheckPending: %v", err)
	}
	if e.PendingCount() != 0 {
		t.Errorf("pending = %d after settle, want 0", e.PendingCount())
	}
	if len(store.positions) != 1 {
		t.Error("fill should create a position")
	}
}

func TestStaleEntryCanceled(t *testing.T) {
	mock := broker.NewMockClient()
	mock.SetPrice("ACME", 10.50)
	e := New(mock, newFakeStore(), &fakeCooldowns{}, zerolog.Nop())
	base := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	now := base
	e.SetClock(func() time.Time { return now })

	if _, err := e.ExecuteEntry(context.Background(), testSignal(), 100, 10.20); err != nil {
		t.Fatalf("ExecuteEntry: %v", err)
	}

	now = base.Add(11 * time.Minute)
	if err := e.CheckPending(context.Background()); err != nil {
		t.Fatalf("CheckPending: %v", err)
	}

	open, _ := mock.ListOpenOrders(context.Background())
	if len(open) != 0 {
		t.Error("stale entry order should be canceled at the broker")
	}

	// the next poll sees the canceled order and drops it from pending
	if err := e.CheckPending(context.Background()); err != nil {
		t.Fatalf("CheckPending after cancel: %v", err)
	}
	if e.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", e.PendingCount())
	}
}

func TestExecuteExit(t *testing.T) {
	mock := broker.NewMockClient()
	mock.SetPrice("ACME", 10.20)
	store := newFakeStore()
	cds := &fakeCooldowns{}
	e := New(mock, store, cds, zerolog.Nop())

	if _, err := e.ExecuteEntry(context.Background(), testSignal(), 100, 10.20); err != nil {
		t.Fatalf("entry: %v", err)
	}
	var pos *database.Position
	for _, p := range store.positions {
		pos = p
	}

	mock.SetPrice("ACME", 9.75)
	if err := e.ExecuteExit(context.Background(), pos, ExitStopLoss, 9.75); err != nil {
		t.Fatalf("ExecuteExit: %v", err)
	}

	if len(store.trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(store.trades))
	}
	if store.trades[0].ExitReason != ExitStopLoss {
		t.Errorf("exit reason = %s, want %s", store.trades[0].ExitReason, ExitStopLoss)
	}
	if len(cds.set) != 1 || cds.set[0] != "ACME/RSI/STOP_LOSS" {
		t.Errorf("cooldowns = %v, want one ACME/RSI/STOP_LOSS", cds.set)
	}

	// a second exit on the same position is a no-op
	if err := e.ExecuteExit(context.Background(), pos, ExitStopLoss, 9.75); err != nil {
		t.Fatalf("duplicate exit: %v", err)
	}
	if len(store.trades) != 1 {
		t.Error("duplicate exit should not archive twice")
	}
}

func TestEntryAndExitQualityBothRecorded(t *testing.T) {
	mock := broker.NewMockClient()
	mock.SetPrice("ACME", 10.20)
	store := newFakeStore()
	e := New(mock, store, &fakeCooldowns{}, zerolog.Nop())

	ticket, err := e.ExecuteEntry(context.Background(), testSignal(), 100, 10.20)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	mock.SetPrice("ACME", 9.75)
	if err := e.ExecuteExit(context.Background(), store.positions[ticket], ExitStopLoss, 9.75); err != nil {
		t.Fatalf("exit: %v", err)
	}

	// the round trip shares one ticket but must keep a row per side
	if len(store.quality) != 2 {
		t.Fatalf("quality rows = %d, want 2", len(store.quality))
	}
	if store.quality[0].TicketID != ticket || store.quality[1].TicketID != ticket {
		t.Errorf("tickets = %s/%s, want both %s",
			store.quality[0].TicketID, store.quality[1].TicketID, ticket)
	}
	if store.quality[0].Side != broker.SideBuy || store.quality[1].Side != broker.SideSell {
		t.Errorf("sides = %s/%s, want BUY then SELL", store.quality[0].Side, store.quality[1].Side)
	}
}

func TestStrategyExitStopLossRetryGoesMarket(t *testing.T) {
	mock := broker.NewMockClient()
	mock.SetPrice("ACME", 9.60)
	store := newFakeStore()
	e := New(mock, store, &fakeCooldowns{}, zerolog.Nop())

	// a stop-loss exit that failed last cycle left the position CLOSING
	reason := ExitStopLoss
	pos := &database.Position{
		TicketID: "TKT-RETRY001", Ticker: "ACME", Strategy: "RSI",
		EntryPrice: 10.20, Quantity: 100,
		Status: database.PositionClosing, ExitSignal: &reason,
	}
	store.positions[pos.TicketID] = pos

	if err := e.ExecuteStrategyExit(context.Background(), pos, 9.80); err != nil {
		t.Fatalf("ExecuteStrategyExit: %v", err)
	}

	// a limit at 9.80 would rest above the 9.60 market; the retry must
	// fill immediately at market
	if len(store.trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(store.trades))
	}
	if store.trades[0].ExitPrice != 9.60 {
		t.Errorf("exit price = %.2f, want the 9.60 market fill", store.trades[0].ExitPrice)
	}
	if store.trades[0].ExitReason != ExitStopLoss {
		t.Errorf("exit reason = %s, want %s", store.trades[0].ExitReason, ExitStopLoss)
	}
	last := store.quality[len(store.quality)-1]
	if last.OrderType != broker.TypeMarket {
		t.Errorf("order type = %s, want MARKET", last.OrderType)
	}
}

func TestRecoverAdoptsOpenOrders(t *testing.T) {
	mock := broker.NewMockClient()
	mock.SetPrice("ACME", 10.50)
	store := newFakeStore()

	first := New(mock, store, &fakeCooldowns{}, zerolog.Nop())
	if _, err := first.ExecuteEntry(context.Background(), testSignal(), 100, 10.20); err != nil {
		t.Fatalf("entry: %v", err)
	}

	second := New(mock, store, &fakeCooldowns{}, zerolog.Nop())
	if err := second.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if second.PendingCount() != 1 {
		t.Errorf("recovered pending = %d, want 1", second.PendingCount())
	}
}

func TestSellSlippageSign(t *testing.T) {
	mock := broker.NewMockClient()
	mock.SetPrice("ACME", 10.20)
	store := newFakeStore()
	e := New(mock, store, &fakeCooldowns{}, zerolog.Nop())

	if _, err := e.ExecuteEntry(context.Background(), testSignal(), 100, 10.20); err != nil {
		t.Fatalf("entry: %v", err)
	}
	var pos *database.Position
	for _, p := range store.positions {
		pos = p
	}

	// expecting 10.00 but the market fill comes at 9.90: a worse sell
	mock.SetPrice("ACME", 9.90)
	if err := e.ExecuteExit(context.Background(), pos, ExitStrategy, 10.00); err != nil {
		t.Fatalf("exit: %v", err)
	}

	last := store.quality[len(store.quality)-1]
	if last.SlippagePct <= 0 {
		t.Errorf("sell slippage = %v, want positive for a worse fill", last.SlippagePct)
	}
}
