// Package validate screens market data before it feeds trading decisions.
// Stage A is the cheap per-snapshot check run on every scan; Stage B
// inspects historical bars.
package validate

import (
	"math"
	"time"

	"equity-trading-bot/internal/broker"
)

// Severities
const (
	SeverityCritical = "CRITICAL"
	SeverityError    = "ERROR"
	SeverityWarning  = "WARNING"
)

// Finding codes
const (
	CodeNonPositivePrice = "NON_POSITIVE_PRICE"
	CodeNaNPrice         = "NAN_PRICE"
	CodeCrossedQuote     = "CROSSED_QUOTE"
	CodeWideSpread       = "WIDE_SPREAD"
	CodeInsufficientBars = "INSUFFICIENT_BARS"
	CodeNaNBar           = "NAN_BAR"
	CodeDuplicateBar     = "DUPLICATE_BAR"
	CodeSessionGap       = "SESSION_GAP"
	CodeZeroVolume       = "ZERO_VOLUME"
)

const (
	minBars        = 30
	wideSpreadPct  = 0.02
	maxBarGapHours = 24 * 4 // weekend plus a holiday
)

// Finding is one validation issue.
type Finding struct {
	Code     string
	Severity string
	Detail   string
}

// Result bundles a validation pass.
type Result struct {
	Findings []Finding
}

// Critical reports whether any finding is CRITICAL.
func (r *Result) Critical() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// OK reports a pass with no CRITICAL or ERROR findings.
func (r *Result) OK() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical || f.Severity == SeverityError {
			return false
		}
	}
	return true
}

func (r *Result) add(code, severity, detail string) {
	r.Findings = append(r.Findings, Finding{Code: code, Severity: severity, Detail: detail})
}

// Snapshot runs the Stage-A checks on a quote snapshot.
func Snapshot(s *broker.Snapshot) *Result {
	res := &Result{}

	price := s.LatestTrade.Price
	if math.IsNaN(price) {
		res.add(CodeNaNPrice, SeverityCritical, "latest trade price is NaN")
		return res
	}
	if price <= 0 {
		res.add(CodeNonPositivePrice, SeverityCritical, "latest trade price is not positive")
		return res
	}

	if s.Bid > 0 && s.Ask > 0 {
		if s.Bid > s.Ask {
			res.add(CodeCrossedQuote, SeverityError, "bid above ask")
		} else if (s.Ask-s.Bid)/price > wideSpreadPct {
			res.add(CodeWideSpread, SeverityWarning, "spread above 2% of last trade")
		}
	}
	return res
}

// Bars runs the Stage-B checks on a daily or intraday bar series. Bars must
// be in ascending time order.
func Bars(bars []broker.Bar) *Result {
	res := &Result{}

	if len(bars) < minBars {
		res.add(CodeInsufficientBars, SeverityCritical, "bar count below minimum")
		return res
	}

	var prev time.Time
	zeroVolume := false
	for i, b := range bars {
		if math.IsNaN(b.Close) || math.IsNaN(float64(b.Volume)) {
			res.add(CodeNaNBar, SeverityCritical, "NaN close or volume")
			return res
		}
		if b.Close <= 0 {
			res.add(CodeNonPositivePrice, SeverityCritical, "non-positive close")
			return res
		}
		if i > 0 {
			if b.Timestamp.Equal(prev) {
				res.add(CodeDuplicateBar, SeverityError, "duplicate bar timestamp")
			}
			if b.Timestamp.Sub(prev) > maxBarGapHours*time.Hour {
				res.add(CodeSessionGap, SeverityError, "gap between bars exceeds session tolerance")
			}
		}
		if b.Volume == 0 {
			zeroVolume = true
		}
		prev = b.Timestamp
	}
	if zeroVolume {
		res.add(CodeZeroVolume, SeverityWarning, "one or more zero-volume bars")
	}
	return res
}
