package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/clock"
	"equity-trading-bot/internal/database"
	"equity-trading-bot/internal/exits"
	"equity-trading-bot/internal/pricecache"
	"equity-trading-bot/internal/reconcile"
	"equity-trading-bot/internal/risk"
	"equity-trading-bot/internal/sentinel"
	"equity-trading-bot/internal/universe"
)

type fakeLock struct {
	acquired int
	released int
	fail     error
}

func (f *fakeLock) Acquire(ctx context.Context) error {
	if f.fail != nil {
		return f.fail
	}
	f.acquired++
	return nil
}

func (f *fakeLock) Release() error {
	f.released++
	return nil
}

type fakeHealth struct {
	state     string
	failures  int
	successes int
}

func (f *fakeHealth) Evaluate(ctx context.Context, quickCheckOK bool) (*sentinel.Verdict, error) {
	return &sentinel.Verdict{State: f.state}, nil
}

func (f *fakeHealth) RecordFailure() { f.failures++ }
func (f *fakeHealth) RecordSuccess() { f.successes++ }

type fakeReconciler struct {
	status string
	runs   int
}

func (f *fakeReconciler) ReconcileAll(ctx context.Context) (*reconcile.Report, error) {
	f.runs++
	return &reconcile.Report{Status: f.status}, nil
}

func (f *fakeReconciler) QuickCheck(ctx context.Context) (bool, error) { return true, nil }

type fakeExits struct {
	result exits.Result
	runs   int
}

func (f *fakeExits) Check(ctx context.Context) (*exits.Result, error) {
	f.runs++
	r := f.result
	return &r, nil
}

type fakeTrader struct {
	entries []string
	limits  []float64
	pending int
}

func (f *fakeTrader) CheckPending(ctx context.Context) error {
	f.pending++
	return nil
}

func (f *fakeTrader) ExecuteEntry(ctx context.Context, sig *database.Signal, shares int, limitPrice float64) (string, error) {
	f.entries = append(f.entries, sig.SignalID)
	f.limits = append(f.limits, limitPrice)
	return "TKT-TEST", nil
}

type fakeScanner struct {
	tier1 int
	tier2 int
}

func (f *fakeScanner) ScanTier1(ctx context.Context) (*universe.ScanResult, error) {
	f.tier1++
	return &universe.ScanResult{}, nil
}

func (f *fakeScanner) ScanTier2(ctx context.Context) (*universe.ScanResult, error) {
	f.tier2++
	return &universe.ScanResult{}, nil
}

type fakeSignals struct {
	confirmed []database.Signal
	executed  []string
	rejected  []string
}

func (f *fakeSignals) GetConfirmedSignals(ctx context.Context, minConfidence float64) ([]database.Signal, error) {
	var out []database.Signal
	for _, s := range f.confirmed {
		if s.Confidence >= minConfidence {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSignals) MarkExecuted(ctx context.Context, signalID string) error {
	f.executed = append(f.executed, signalID)
	return nil
}

func (f *fakeSignals) Reject(ctx context.Context, sig *database.Signal, reason string) error {
	f.rejected = append(f.rejected, sig.SignalID)
	return nil
}

type fakeGate struct {
	deny   map[string]string
	prices []float64
}

func (f *fakeGate) Approve(ctx context.Context, sig *database.Signal, currentPrice, atr float64) (*risk.Decision, error) {
	f.prices = append(f.prices, currentPrice)
	if reason, ok := f.deny[sig.SignalID]; ok {
		return &risk.Decision{Approved: false, Reason: reason}, nil
	}
	return &risk.Decision{Approved: true, Shares: 100}, nil
}

type fakePrices struct {
	price   float64
	cleaned int
}

func (f *fakePrices) Get(ctx context.Context, ticker string) (*pricecache.Quote, error) {
	return &pricecache.Quote{Ticker: ticker, Price: f.price}, nil
}

func (f *fakePrices) CleanStale(ctx context.Context) (int, error) {
	f.cleaned++
	return 0, nil
}

type fakeVol struct{}

func (fakeVol) ATR(ctx context.Context, ticker string) (float64, error) { return 0.25, nil }

type world struct {
	lock       *fakeLock
	health     *fakeHealth
	reconciler *fakeReconciler
	exitMon    *fakeExits
	trader     *fakeTrader
	scanner    *fakeScanner
	signals    *fakeSignals
	gate       *fakeGate
	prices     *fakePrices
}

func confirmedSignal(id string, conf float64) database.Signal {
	return database.Signal{
		SignalID: id, Ticker: "ACME", Strategy: "RSI",
		GoInPrice: 10.20, ProfitTarget: 10.70, StopLoss: 9.80,
		Confidence: conf, Status: database.SignalConfirmed,
	}
}

func newWorld() *world {
	return &world{
		lock:       &fakeLock{},
		health:     &fakeHealth{state: database.HealthGreen},
		reconciler: &fakeReconciler{status: reconcile.StatusGreen},
		exitMon:    &fakeExits{},
		trader:     &fakeTrader{},
		scanner:    &fakeScanner{},
		signals:    &fakeSignals{},
		gate:       &fakeGate{},
		prices:     &fakePrices{price: 10.25},
	}
}

var midSession = time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)

func newOrchestrator(t *testing.T, w *world, at time.Time) *Orchestrator {
	t.Helper()
	session, err := clock.NewSession(clock.DefaultCalendar2026())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	o := New(Deps{
		Session:    session,
		Lock:       w.lock,
		Health:     w.health,
		Reconciler: w.reconciler,
		ExitMon:    w.exitMon,
		Trader:     w.trader,
		Scanner:    w.scanner,
		Signals:    w.signals,
		Gate:       w.gate,
		Prices:     w.prices,
		Volatility: fakeVol{},
	}, zerolog.Nop())
	o.SetClock(func() time.Time { return at })
	return o
}

func TestRunCycleGreenPath(t *testing.T) {
	w := newWorld()
	w.signals.confirmed = []database.Signal{
		confirmedSignal("A", 90),
		confirmedSignal("B", 80),
		confirmedSignal("C", 70),
		confirmedSignal("D", 65),
	}

	res, err := newOrchestrator(t, w, midSession).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Skipped {
		t.Fatalf("skipped: %s", res.SkipReason)
	}
	if w.exitMon.runs != 1 || w.reconciler.runs != 1 || w.trader.pending != 1 {
		t.Error("exits, reconcile, and pending check must all run")
	}
	if w.scanner.tier1 != 1 || w.scanner.tier2 != 1 {
		t.Errorf("scans = %d/%d, want both on GREEN", w.scanner.tier1, w.scanner.tier2)
	}
	// GREEN admits at most 3 new entries
	if res.EntriesPlaced != 3 || len(w.trader.entries) != 3 {
		t.Errorf("entries = %d (%v), want 3", res.EntriesPlaced, w.trader.entries)
	}
	if w.trader.entries[0] != "A" {
		t.Errorf("first entry = %s, want highest confidence first", w.trader.entries[0])
	}
	if len(w.signals.executed) != 3 {
		t.Errorf("executed transitions = %v", w.signals.executed)
	}
	if w.lock.acquired != 1 || w.lock.released != 1 {
		t.Errorf("lock acquired=%d released=%d, want 1/1", w.lock.acquired, w.lock.released)
	}
}

func TestRunCycleYellowTightensAdmission(t *testing.T) {
	w := newWorld()
	w.health.state = database.HealthYellow
	w.signals.confirmed = []database.Signal{
		confirmedSignal("A", 90),
		confirmedSignal("B", 75), // above GREEN floor, below YELLOW floor
	}

	res, err := newOrchestrator(t, w, midSession).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.EntriesPlaced != 1 || len(w.trader.entries) != 1 || w.trader.entries[0] != "A" {
		t.Errorf("entries = %v, want only the 90-confidence signal", w.trader.entries)
	}
	if w.scanner.tier2 != 0 {
		t.Error("tier 2 must not run on YELLOW")
	}
}

func TestRunCycleRedHaltsBeforeExits(t *testing.T) {
	w := newWorld()
	w.health.state = database.HealthRed

	res, err := newOrchestrator(t, w, midSession).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !res.Skipped || res.SkipReason != "health RED" {
		t.Errorf("res = %+v, want RED skip", res)
	}
	if w.exitMon.runs != 0 {
		t.Error("RED aborts the tick before the exit monitor")
	}
	if w.lock.released != 1 {
		t.Error("lock must still be released")
	}
}

func TestRunCycleReconcileRedBlocksEntries(t *testing.T) {
	w := newWorld()
	w.reconciler.status = reconcile.StatusRed
	w.signals.confirmed = []database.Signal{confirmedSignal("A", 90)}

	res, err := newOrchestrator(t, w, midSession).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if w.exitMon.runs != 1 {
		t.Error("exits still run before the reconcile verdict")
	}
	if res.EntriesPlaced != 0 || len(w.trader.entries) != 0 {
		t.Error("reconcile RED must block entries")
	}
	if w.scanner.tier1 != 0 {
		t.Error("reconcile RED returns before scans")
	}
}

func TestRunCycleMarketClosed(t *testing.T) {
	w := newWorld()
	sunday := time.Date(2026, 8, 23, 15, 0, 0, 0, time.UTC)

	res, err := newOrchestrator(t, w, sunday).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !res.Skipped || res.SkipReason != "market closed" {
		t.Errorf("res = %+v, want market-closed skip", res)
	}
	if w.lock.acquired != 0 {
		t.Error("closed market should not touch the lock")
	}
}

func TestRunCyclePreCloseSuspendsEntries(t *testing.T) {
	w := newWorld()
	w.exitMon.result = exits.Result{PreCloseWarning: true}
	w.signals.confirmed = []database.Signal{confirmedSignal("A", 90)}

	res, err := newOrchestrator(t, w, midSession).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.EntriesPlaced != 0 {
		t.Error("pre-close warning must suspend entries")
	}
}

func TestRunCycleDeniedCandidateConsumesBudgetSlot(t *testing.T) {
	w := newWorld()
	w.health.state = database.HealthYellow // budget of 1
	w.gate.deny = map[string]string{"A": risk.DenyPositionExists}
	w.signals.confirmed = []database.Signal{
		confirmedSignal("A", 90),
		confirmedSignal("B", 80),
	}

	res, err := newOrchestrator(t, w, midSession).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(w.signals.rejected) != 1 || w.signals.rejected[0] != "A" {
		t.Errorf("rejected = %v, want A", w.signals.rejected)
	}
	// only the top maxNew candidates are considered; A's denial spends
	// the single slot and B must wait for the next cycle
	if res.EntriesPlaced != 0 || len(w.trader.entries) != 0 {
		t.Errorf("entries = %v, want none", w.trader.entries)
	}
}

func TestRunCycleEntryPricesAtGoInPrice(t *testing.T) {
	w := newWorld()
	w.prices.price = 11.50 // market has run well past the signal level
	w.signals.confirmed = []database.Signal{confirmedSignal("A", 90)}

	if _, err := newOrchestrator(t, w, midSession).RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(w.trader.limits) != 1 || w.trader.limits[0] != 10.20 {
		t.Errorf("limit price = %v, want the signal's 10.20 go-in price", w.trader.limits)
	}
	if len(w.gate.prices) != 1 || w.gate.prices[0] != 10.20 {
		t.Errorf("gate sized at %v, want 10.20", w.gate.prices)
	}
}
