// Package market classifies the broad-market regime from index daily bars.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/broker"
	"equity-trading-bot/internal/validate"
)

// Regimes, worst first.
const (
	RegimeCrash   = "CRASH"
	RegimeBear    = "BEAR"
	RegimeNeutral = "NEUTRAL"
	RegimeBull    = "BULL"
)

const (
	indexSymbol  = "SPY"
	smaWindow    = 50
	lookbackDays = 90

	crashDayReturn  = -0.07
	bearSMADiscount = 0.97
	bear5DayReturn  = -0.03
	bullSMAPremium  = 1.01

	cacheTTL = 30 * time.Minute
)

// Detector classifies the regime from SPY daily closes, caching the result
// so a full scan cycle hits the bars endpoint at most once per half hour.
type Detector struct {
	data broker.DataClient
	now  func() time.Time
	log  zerolog.Logger

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
}

func NewDetector(data broker.DataClient, logger zerolog.Logger) *Detector {
	return &Detector{
		data: data,
		now:  func() time.Time { return time.Now().UTC() },
		log:  logger.With().Str("component", "market").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (d *Detector) SetClock(now func() time.Time) { d.now = now }

// Regime returns the current classification, from cache when fresh.
func (d *Detector) Regime(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.cached != "" && d.now().Sub(d.cachedAt) < cacheTTL {
		r := d.cached
		d.mu.Unlock()
		return r, nil
	}
	d.mu.Unlock()

	now := d.now()
	bars, err := d.data.GetBars(ctx, indexSymbol, "1Day", now.AddDate(0, 0, -lookbackDays), now)
	if err != nil {
		return "", fmt.Errorf("regime bars: %w", err)
	}
	if res := validate.Bars(bars); res.Critical() {
		return "", fmt.Errorf("regime bars failed validation: %v", res.Findings)
	}

	regime := Classify(bars)

	d.mu.Lock()
	d.cached = regime
	d.cachedAt = now
	d.mu.Unlock()

	d.log.Info().Str("regime", regime).Msg("market regime classified")
	return regime, nil
}

// Classify applies the regime rules to an ascending daily bar series. Crash
// dominates bear, bear dominates bull.
func Classify(bars []broker.Bar) string {
	n := len(bars)
	if n < smaWindow+1 {
		return RegimeNeutral
	}

	last := bars[n-1].Close
	prev := bars[n-2].Close
	if prev > 0 && (last-prev)/prev <= crashDayReturn {
		return RegimeCrash
	}

	sum := 0.0
	for _, b := range bars[n-smaWindow:] {
		sum += b.Close
	}
	sma := sum / smaWindow

	if n >= 6 {
		fiveAgo := bars[n-6].Close
		if last < bearSMADiscount*sma && fiveAgo > 0 && (last-fiveAgo)/fiveAgo < bear5DayReturn {
			return RegimeBear
		}
	}

	if last > bullSMAPremium*sma {
		return RegimeBull
	}
	return RegimeNeutral
}
