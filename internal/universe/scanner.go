// Package universe walks the watch list each cycle, checks data quality,
// and advances any KIV signals whose tickers have bounced.
package universe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/broker"
	"equity-trading-bot/internal/database"
	"equity-trading-bot/internal/pricecache"
	"equity-trading-bot/internal/signal"
	"equity-trading-bot/internal/validate"
)

// Watch list tiers. Tier 1 is scanned on every healthy cycle, tier 2 only
// when health is GREEN.
const (
	Tier1 = 1
	Tier2 = 2
)

const atrPeriod = 14

// Store is the persistence surface the scanner needs.
type Store interface {
	GetWatchTier(ctx context.Context, tier int) ([]database.WatchItem, error)
	TouchWatchItem(ctx context.Context, ticker string, at time.Time) error
	GetSignalsByStatus(ctx context.Context, status string) ([]database.Signal, error)
	LogDataQuality(ctx context.Context, ticker, issueType, severity string, barsExpected, barsActual int, action string) error
}

// Prices supplies validated quotes.
type Prices interface {
	Get(ctx context.Context, ticker string) (*pricecache.Quote, error)
}

// Confirmer advances KIV signals against a current price.
type Confirmer interface {
	CheckConfirmation(ctx context.Context, ticker, strategy string, currentPrice float64) (*signal.Confirmation, error)
}

// Ignorer quarantines tickers with bad data.
type Ignorer interface {
	IsIgnored(ctx context.Context, ticker, strategy string) (bool, error)
	Add(ctx context.Context, ticker, reason, scope string) error
}

// ScanResult summarizes one tier scan.
type ScanResult struct {
	Scanned   int
	Skipped   int
	Confirmed int
	Ignored   int
}

// Scanner runs the tiered watch list scans.
type Scanner struct {
	store     Store
	prices    Prices
	data      broker.DataClient
	confirmer Confirmer
	ignores   Ignorer
	now       func() time.Time
	log       zerolog.Logger
}

func NewScanner(store Store, prices Prices, data broker.DataClient, confirmer Confirmer, ignores Ignorer, logger zerolog.Logger) *Scanner {
	return &Scanner{
		store:     store,
		prices:    prices,
		data:      data,
		confirmer: confirmer,
		ignores:   ignores,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.With().Str("component", "universe").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (s *Scanner) SetClock(now func() time.Time) { s.now = now }

// ScanTier1 runs the cheap pass: one validated quote per watched ticker and
// a confirmation check against its pending KIV signals. A ticker whose
// quote fails critically is quarantined with the validation code.
func (s *Scanner) ScanTier1(ctx context.Context) (*ScanResult, error) {
	return s.scan(ctx, Tier1, false)
}

// ScanTier2 runs the deep pass over the second tier, adding the historical
// bar checks on top of the quote check.
func (s *Scanner) ScanTier2(ctx context.Context) (*ScanResult, error) {
	return s.scan(ctx, Tier2, true)
}

func (s *Scanner) scan(ctx context.Context, tier int, deep bool) (*ScanResult, error) {
	items, err := s.store.GetWatchTier(ctx, tier)
	if err != nil {
		return nil, fmt.Errorf("scan tier %d: %w", tier, err)
	}

	kiv, err := s.store.GetSignalsByStatus(ctx, database.SignalKIV)
	if err != nil {
		return nil, fmt.Errorf("scan tier %d signals: %w", tier, err)
	}
	kivByTicker := make(map[string][]database.Signal)
	for _, sig := range kiv {
		kivByTicker[sig.Ticker] = append(kivByTicker[sig.Ticker], sig)
	}

	res := &ScanResult{}
	now := s.now()
	for _, item := range items {
		if ignored, err := s.ignores.IsIgnored(ctx, item.Ticker, ""); err != nil {
			return nil, err
		} else if ignored {
			res.Skipped++
			continue
		}

		quote, err := s.prices.Get(ctx, item.Ticker)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", item.Ticker).Msg("quote unavailable, ticker skipped")
			s.store.LogDataQuality(ctx, item.Ticker, "QUOTE_UNAVAILABLE", validate.SeverityError, 0, 0, "skipped")
			res.Skipped++
			continue
		}

		if deep {
			bars, err := s.data.GetBars(ctx, item.Ticker, "1Day", now.AddDate(0, 0, -60), now)
			if err != nil {
				s.store.LogDataQuality(ctx, item.Ticker, "BARS_UNAVAILABLE", validate.SeverityError, 0, 0, "skipped")
				res.Skipped++
				continue
			}
			if check := validate.Bars(bars); check.Critical() {
				code := check.Findings[0].Code
				s.store.LogDataQuality(ctx, item.Ticker, code, validate.SeverityCritical, 30, len(bars), "ignored")
				if err := s.ignores.Add(ctx, item.Ticker, code, ""); err != nil {
					return nil, err
				}
				res.Ignored++
				continue
			}
		}

		res.Scanned++
		s.store.TouchWatchItem(ctx, item.Ticker, now)

		for _, sig := range kivByTicker[item.Ticker] {
			conf, err := s.confirmer.CheckConfirmation(ctx, sig.Ticker, sig.Strategy, quote.Price)
			if err != nil {
				s.log.Error().Err(err).Str("signal_id", sig.SignalID).Msg("confirmation check failed")
				continue
			}
			if conf.Confirmed {
				res.Confirmed++
			}
		}
	}

	s.log.Info().Int("tier", tier).Int("scanned", res.Scanned).Int("skipped", res.Skipped).
		Int("confirmed", res.Confirmed).Msg("watch list scanned")
	return res, nil
}

// ATR fetches recent daily bars for a ticker and returns its 14-period
// average true range.
func (s *Scanner) ATR(ctx context.Context, ticker string) (float64, error) {
	now := s.now()
	bars, err := s.data.GetBars(ctx, ticker, "1Day", now.AddDate(0, 0, -30), now)
	if err != nil {
		return 0, fmt.Errorf("atr %s: %w", ticker, err)
	}
	return ATR(bars, atrPeriod), nil
}

// ATR computes the average true range over the last period bars, for the
// sizer's volatility scaling. Returns 0 when the series is too short.
func ATR(bars []broker.Bar, period int) float64 {
	if period <= 0 {
		period = atrPeriod
	}
	if len(bars) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		high, low, prevClose := bars[i].High, bars[i].Low, bars[i-1].Close
		tr := high - low
		if d := abs(high - prevClose); d > tr {
			tr = d
		}
		if d := abs(low - prevClose); d > tr {
			tr = d
		}
		sum += tr
	}
	return sum / float64(period)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
