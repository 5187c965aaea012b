package clock

import (
	"testing"
	"time"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(DefaultCalendar2026())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

// 2026-08-24 is a Monday with no holiday. EDT is UTC-4, so the session runs
// 13:30 to 20:00 UTC.
func TestIsMarketOpenRegularDay(t *testing.T) {
	s := newTestSession(t)

	tests := []struct {
		name string
		utc  time.Time
		want bool
	}{
		{"before open", time.Date(2026, 8, 24, 13, 0, 0, 0, time.UTC), false},
		{"at open", time.Date(2026, 8, 24, 13, 30, 0, 0, time.UTC), true},
		{"midday", time.Date(2026, 8, 24, 17, 0, 0, 0, time.UTC), true},
		{"at close", time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC), true},
		{"after close", time.Date(2026, 8, 24, 20, 0, 1, 0, time.UTC), false},
		{"saturday", time.Date(2026, 8, 22, 17, 0, 0, 0, time.UTC), false},
		{"sunday", time.Date(2026, 8, 23, 17, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsMarketOpen(tt.utc); got != tt.want {
				t.Errorf("IsMarketOpen(%v) = %v, want %v", tt.utc, got, tt.want)
			}
		})
	}
}

func TestHolidaysClosed(t *testing.T) {
	s := newTestSession(t)

	// Thanksgiving 2026, midday NY time.
	thanksgiving := time.Date(2026, 11, 26, 17, 0, 0, 0, time.UTC)
	if s.IsMarketOpen(thanksgiving) {
		t.Error("market should be closed on Thanksgiving")
	}
	if s.IsTradingDay(thanksgiving) {
		t.Error("Thanksgiving should not be a trading day")
	}
}

func TestEarlyClose(t *testing.T) {
	s := newTestSession(t)

	// Day after Thanksgiving 2026 closes 13:00 NY = 18:00 UTC (EST).
	open := time.Date(2026, 11, 27, 17, 30, 0, 0, time.UTC)
	if !s.IsMarketOpen(open) {
		t.Error("market should be open at 12:30 NY on an early-close day")
	}
	closed := time.Date(2026, 11, 27, 18, 30, 0, 0, time.UTC)
	if s.IsMarketOpen(closed) {
		t.Error("market should be closed at 13:30 NY on an early-close day")
	}

	_, close, ok := s.SessionBounds(open)
	if !ok {
		t.Fatal("SessionBounds should succeed on an early-close day")
	}
	if got := close.UTC().Hour(); got != 18 {
		t.Errorf("early close hour = %d UTC, want 18", got)
	}
}

func TestMinutesUntilClose(t *testing.T) {
	s := newTestSession(t)

	// 19:55 UTC on a regular day is 5 minutes before the 20:00 UTC close.
	at := time.Date(2026, 8, 24, 19, 55, 0, 0, time.UTC)
	if got := s.MinutesUntilClose(at); got != 5 {
		t.Errorf("MinutesUntilClose = %v, want 5", got)
	}

	after := time.Date(2026, 8, 24, 20, 30, 0, 0, time.UTC)
	if got := s.MinutesUntilClose(after); got >= 0 {
		t.Errorf("MinutesUntilClose after close = %v, want negative", got)
	}

	sunday := time.Date(2026, 8, 23, 17, 0, 0, 0, time.UTC)
	if got := s.MinutesUntilClose(sunday); got != 0 {
		t.Errorf("MinutesUntilClose on Sunday = %v, want 0", got)
	}
}

func TestPreCloseWindow(t *testing.T) {
	s := newTestSession(t)

	tests := []struct {
		name   string
		utc    time.Time
		window float64
		want   bool
	}{
		{"15m window at 10m out", time.Date(2026, 8, 24, 19, 50, 0, 0, time.UTC), 15, true},
		{"exactly at boundary", time.Date(2026, 8, 24, 19, 45, 0, 0, time.UTC), 15, true},
		{"outside window", time.Date(2026, 8, 24, 19, 40, 0, 0, time.UTC), 15, false},
		{"after close", time.Date(2026, 8, 24, 20, 5, 0, 0, time.UTC), 15, false},
		{"force window at 5m", time.Date(2026, 8, 24, 19, 55, 0, 0, time.UTC), 5, true},
		{"force window at 6m", time.Date(2026, 8, 24, 19, 54, 0, 0, time.UTC), 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsPreCloseWindow(tt.utc, tt.window); got != tt.want {
				t.Errorf("IsPreCloseWindow(%v, %v) = %v, want %v", tt.utc, tt.window, got, tt.want)
			}
		})
	}
}

func TestUTCMidnight(t *testing.T) {
	at := time.Date(2026, 8, 24, 19, 55, 30, 0, time.UTC)
	want := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	if got := UTCMidnight(at); !got.Equal(want) {
		t.Errorf("UTCMidnight = %v, want %v", got, want)
	}
}
