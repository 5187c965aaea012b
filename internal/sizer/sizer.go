// Package sizer computes confidence- and volatility-scaled share counts and
// validates per-trade risk.
package sizer

import "math"

// Volatility thresholds on atr/price and their multipliers.
const (
	highVolRatio = 0.05
	lowVolRatio  = 0.01

	highVolMult = 0.5
	lowVolMult  = 1.2

	capitalFraction = 0.2

	// maxRiskCapitalPct is the hard ceiling on risk as a fraction of
	// capital, independent of the per-trade setting.
	maxRiskCapitalPct = 0.05
)

// Sizer holds the static sizing limits.
type Sizer struct {
	maxPerTrade     float64
	riskPerTradePct float64
}

func New(maxPerTrade, riskPerTradePct float64) *Sizer {
	return &Sizer{maxPerTrade: maxPerTrade, riskPerTradePct: riskPerTradePct}
}

// Shares returns the share count for an entry. ATR of zero skips the
// volatility adjustment (multiplier 1.0).
func (s *Sizer) Shares(price, confidence, atr, availableCapital float64) int {
	if price <= 0 || availableCapital <= 0 {
		return 0
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	base := math.Min(s.maxPerTrade, availableCapital*capitalFraction)
	scaled := base * (confidence / 100)

	volMult := 1.0
	if atr > 0 {
		switch ratio := atr / price; {
		case ratio > highVolRatio:
			volMult = highVolMult
		case ratio < lowVolRatio:
			volMult = lowVolMult
		}
	}

	final := math.Min(scaled*volMult, s.maxPerTrade)
	return int(math.Floor(final / price))
}

// ValidateRisk checks the dollar risk of an entry/stop pair against the
// per-trade budget and the absolute capital ceiling.
func (s *Sizer) ValidateRisk(entry, stop float64, shares int, capital float64) bool {
	if shares <= 0 || capital <= 0 {
		return false
	}
	risk := math.Abs(entry-stop) * float64(shares)
	if risk/capital > 2*s.riskPerTradePct {
		return false
	}
	if risk > maxRiskCapitalPct*capital {
		return false
	}
	return true
}
