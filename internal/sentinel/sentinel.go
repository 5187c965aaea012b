// Package sentinel is the health gate for the trading loop. It rolls API
// budget pressure, data quality, reconciliation state, the market regime,
// the manual kill switch, and its own failure streak into a single
// GREEN/YELLOW/RED verdict.
package sentinel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/clock"
	"equity-trading-bot/internal/database"
	"equity-trading-bot/internal/market"
)

const (
	critUsage    = 0.90
	warnUsage    = 0.75
	warnFraction = 0.7

	defaultMaxFailures = 3
)

// Store is the persistence surface the sentinel needs.
type Store interface {
	CountErrorsSince(ctx context.Context, since time.Time) (int, error)
	CountActiveIgnores(ctx context.Context, now time.Time) (int, error)
	AppendHealth(ctx context.Context, h *database.HealthRecord) error
	RecordAPIBudget(ctx context.Context, cycleStart time.Time, endpoint string, calls, limit int) error
}

// RegimeSource supplies the current market regime.
type RegimeSource interface {
	Regime(ctx context.Context) (string, error)
}

// Verdict is one health evaluation.
type Verdict struct {
	State   string
	Reasons []string
}

func (v *Verdict) downgrade(state, reason string) {
	if state == database.HealthRed || (state == database.HealthYellow && v.State == database.HealthGreen) {
		v.State = state
	}
	v.Reasons = append(v.Reasons, reason)
}

// Sentinel evaluates system health before each cycle stage.
type Sentinel struct {
	store         Store
	rate          *RateWindow
	rateLimit     int
	maxDataErrors int
	maxFailures   int
	regime        RegimeSource
	kill          *KillSwitch
	now           func() time.Time
	log           zerolog.Logger

	mu       sync.Mutex
	failures int
}

func New(store Store, rate *RateWindow, rateLimit, maxDataErrors, maxFailures int, regime RegimeSource, kill *KillSwitch, logger zerolog.Logger) *Sentinel {
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	return &Sentinel{
		store:         store,
		rate:          rate,
		rateLimit:     rateLimit,
		maxDataErrors: maxDataErrors,
		maxFailures:   maxFailures,
		regime:        regime,
		kill:          kill,
		now:           func() time.Time { return time.Now().UTC() },
		log:           logger.With().Str("component", "sentinel").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (s *Sentinel) SetClock(now func() time.Time) { s.now = now }

// RecordFailure bumps the consecutive cycle-failure streak.
func (s *Sentinel) RecordFailure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

// RecordSuccess resets the streak.
func (s *Sentinel) RecordSuccess() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}

func (s *Sentinel) failureStreak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Evaluate rolls every health input into one verdict and appends it to the
// health log. quickCheckOK is the latest reconciliation quick check result.
func (s *Sentinel) Evaluate(ctx context.Context, quickCheckOK bool) (*Verdict, error) {
	v := &Verdict{State: database.HealthGreen}
	now := s.now()

	if engaged, reason, err := s.kill.Engaged(ctx); err != nil {
		return nil, err
	} else if engaged {
		v.downgrade(database.HealthRed, "kill switch engaged: "+reason)
	}

	usage := s.rate.Usage(s.rateLimit)
	switch {
	case usage >= critUsage:
		v.downgrade(database.HealthRed, fmt.Sprintf("api usage %.0f%% of limit", usage*100))
	case usage >= warnUsage:
		v.downgrade(database.HealthYellow, fmt.Sprintf("api usage %.0f%% of limit", usage*100))
	}

	dataErrors, err := s.store.CountErrorsSince(ctx, clock.UTCMidnight(now))
	if err != nil {
		return nil, fmt.Errorf("sentinel data errors: %w", err)
	}
	switch {
	case dataErrors > s.maxDataErrors:
		v.downgrade(database.HealthRed, fmt.Sprintf("%d data errors today", dataErrors))
	case float64(dataErrors) > warnFraction*float64(s.maxDataErrors):
		v.downgrade(database.HealthYellow, fmt.Sprintf("%d data errors today", dataErrors))
	}

	if !quickCheckOK {
		v.downgrade(database.HealthRed, "position quick check failed")
	}

	regime, err := s.regime.Regime(ctx)
	if err != nil {
		// A dead regime feed is itself a warning, not a halt.
		v.downgrade(database.HealthYellow, "regime unavailable: "+err.Error())
	} else {
		switch regime {
		case market.RegimeCrash:
			v.downgrade(database.HealthRed, "market regime CRASH")
		case market.RegimeBear:
			v.downgrade(database.HealthYellow, "market regime BEAR")
		}
	}

	if streak := s.failureStreak(); streak >= s.maxFailures {
		v.downgrade(database.HealthRed, fmt.Sprintf("%d consecutive cycle failures", streak))
	}

	ignores, err := s.store.CountActiveIgnores(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("sentinel ignore count: %w", err)
	}

	rec := &database.HealthRecord{
		Timestamp:       now,
		State:           v.State,
		APICallsCycle:   s.rate.Count(),
		DataErrorsToday: dataErrors,
		IgnoreListSize:  ignores,
		Reason:          strings.Join(v.Reasons, "; "),
	}
	if err := s.store.AppendHealth(ctx, rec); err != nil {
		return nil, fmt.Errorf("sentinel append health: %w", err)
	}
	if err := s.store.RecordAPIBudget(ctx, now, "all", rec.APICallsCycle, s.rateLimit); err != nil {
		s.log.Error().Err(err).Msg("api budget record failed")
	}

	if v.State != database.HealthGreen {
		s.log.Warn().Str("state", v.State).Strs("reasons", v.Reasons).Msg("health degraded")
	}
	return v, nil
}
