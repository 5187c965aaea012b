package universe

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/broker"
	"equity-trading-bot/internal/database"
	"equity-trading-bot/internal/pricecache"
	"equity-trading-bot/internal/signal"
)

type fakeStore struct {
	tiers   map[int][]database.WatchItem
	kiv     []database.Signal
	touched []string
	quality []string
}

func (f *fakeStore) GetWatchTier(ctx context.Context, tier int) ([]database.WatchItem, error) {
	return f.tiers[tier], nil
}

func (f *fakeStore) TouchWatchItem(ctx context.Context, ticker string, at time.Time) error {
	f.touched = append(f.touched, ticker)
	return nil
}

func (f *fakeStore) GetSignalsByStatus(ctx context.Context, status string) ([]database.Signal, error) {
	return f.kiv, nil
}

func (f *fakeStore) LogDataQuality(ctx context.Context, ticker, issueType, severity string, barsExpected, barsActual int, action string) error {
	f.quality = append(f.quality, ticker+"/"+issueType)
	return nil
}

type fakePrices struct {
	prices map[string]float64
	errs   map[string]error
}

func (f *fakePrices) Get(ctx context.Context, ticker string) (*pricecache.Quote, error) {
	if err := f.errs[ticker]; err != nil {
		return nil, err
	}
	return &pricecache.Quote{Ticker: ticker, Price: f.prices[ticker]}, nil
}

type fakeConfirmer struct{ confirmed []string }

func (f *fakeConfirmer) CheckConfirmation(ctx context.Context, ticker, strategy string, currentPrice float64) (*signal.Confirmation, error) {
	f.confirmed = append(f.confirmed, ticker+"/"+strategy)
	return &signal.Confirmation{Confirmed: true}, nil
}

type fakeIgnorer struct {
	ignored map[string]bool
	added   []string
}

func (f *fakeIgnorer) IsIgnored(ctx context.Context, ticker, strategy string) (bool, error) {
	return f.ignored[ticker], nil
}

func (f *fakeIgnorer) Add(ctx context.Context, ticker, reason, scope string) error {
	f.added = append(f.added, ticker+"/"+reason)
	return nil
}

func watch(ticker string, tier int) database.WatchItem {
	return database.WatchItem{Ticker: ticker, Tier: tier}
}

func TestScanTier1(t *testing.T) {
	store := &fakeStore{
		tiers: map[int][]database.WatchItem{
			Tier1: {watch("ACME", 1), watch("ZETA", 1), watch("DEAD", 1)},
		},
		kiv: []database.Signal{{
			SignalID: "ACME_RSI_2026082414", Ticker: "ACME", Strategy: "RSI",
			Status: database.SignalKIV,
		}},
	}
	prices := &fakePrices{
		prices: map[string]float64{"ACME": 10.20, "ZETA": 55.00},
		errs:   map[string]error{"DEAD": errors.New("feed down")},
	}
	confirmer := &fakeConfirmer{}
	ignores := &fakeIgnorer{ignored: map[string]bool{}}

	s := NewScanner(store, prices, broker.NewMockClient(), confirmer, ignores, zerolog.Nop())
	res, err := s.ScanTier1(context.Background())
	if err != nil {
		t.Fatalf("ScanTier1: %v", err)
	}

	if res.Scanned != 2 || res.Skipped != 1 {
		t.Errorf("scanned=%d skipped=%d, want 2/1", res.Scanned, res.Skipped)
	}
	if res.Confirmed != 1 {
		t.Errorf("confirmed = %d, want 1", res.Confirmed)
	}
	if len(confirmer.confirmed) != 1 || confirmer.confirmed[0] != "ACME/RSI" {
		t.Errorf("confirmation calls = %v", confirmer.confirmed)
	}
	if len(store.quality) != 1 || store.quality[0] != "DEAD/QUOTE_UNAVAILABLE" {
		t.Errorf("quality log = %v", store.quality)
	}
}

func TestScanSkipsIgnoredTickers(t *testing.T) {
	store := &fakeStore{
		tiers: map[int][]database.WatchItem{Tier1: {watch("ACME", 1)}},
	}
	prices := &fakePrices{prices: map[string]float64{"ACME": 10.20}}
	ignores := &fakeIgnorer{ignored: map[string]bool{"ACME": true}}

	s := NewScanner(store, prices, broker.NewMockClient(), &fakeConfirmer{}, ignores, zerolog.Nop())
	res, err := s.ScanTier1(context.Background())
	if err != nil {
		t.Fatalf("ScanTier1: %v", err)
	}
	if res.Skipped != 1 || res.Scanned != 0 {
		t.Errorf("skipped=%d scanned=%d, want 1/0", res.Skipped, res.Scanned)
	}
}

func TestScanTier2QuarantinesShortHistory(t *testing.T) {
	store := &fakeStore{
		tiers: map[int][]database.WatchItem{Tier2: {watch("NEWIPO", 2)}},
	}
	prices := &fakePrices{prices: map[string]float64{"NEWIPO": 30.00}}
	ignores := &fakeIgnorer{ignored: map[string]bool{}}

	data := &shortBars{n: 10}
	s := NewScanner(store, prices, data, &fakeConfirmer{}, ignores, zerolog.Nop())
	res, err := s.ScanTier2(context.Background())
	if err != nil {
		t.Fatalf("ScanTier2: %v", err)
	}
	if res.Ignored != 1 {
		t.Fatalf("ignored = %d, want 1", res.Ignored)
	}
	if len(ignores.added) != 1 || ignores.added[0] != "NEWIPO/INSUFFICIENT_BARS" {
		t.Errorf("ignore adds = %v", ignores.added)
	}
}

type shortBars struct{ n int }

func (s *shortBars) GetSnapshot(ctx context.Context, symbol string) (*broker.Snapshot, error) {
	return nil, errors.New("unused")
}

func (s *shortBars) GetLatestTrade(ctx context.Context, symbol string) (*broker.Trade, error) {
	return nil, errors.New("unused")
}

func (s *shortBars) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]broker.Bar, error) {
	bars := make([]broker.Bar, s.n)
	for i := range bars {
		bars[i] = broker.Bar{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      10, High: 10.5, Low: 9.5, Close: 10, Volume: 1000,
		}
	}
	return bars, nil
}

func TestATR(t *testing.T) {
	bars := make([]broker.Bar, 20)
	for i := range bars {
		bars[i] = broker.Bar{High: 11, Low: 10, Close: 10.5}
	}

	got := ATR(bars, 14)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("ATR = %v, want 1.0 for a constant 1-point range", got)
	}

	if got := ATR(bars[:10], 14); got != 0 {
		t.Errorf("short series ATR = %v, want 0", got)
	}

	// a gap day widens the true range via the previous close
	bars[19].High, bars[19].Low = 9, 8.5
	got = ATR(bars, 14)
	want := (13*1.0 + 2.0) / 14 // |low - prevClose| = |8.5 - 10.5| = 2
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("ATR with gap = %v, want %v", got, want)
	}
}
