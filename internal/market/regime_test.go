package market

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/broker"
)

// flatBars builds n daily bars all closing at the same price.
func flatBars(n int, close float64) []broker.Bar {
	bars := make([]broker.Bar, 0, n)
	start := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		bars = append(bars, broker.Bar{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      close, High: close, Low: close, Close: close, Volume: 1_000_000,
		})
	}
	return bars
}

func TestClassify(t *testing.T) {
	t.Run("flat series is neutral", func(t *testing.T) {
		if got := Classify(flatBars(60, 100)); got != RegimeNeutral {
			t.Errorf("got %s, want %s", got, RegimeNeutral)
		}
	})

	t.Run("seven percent daily drop is crash", func(t *testing.T) {
		bars := flatBars(60, 100)
		bars[len(bars)-1].Close = 93 // -7% on the day
		if got := Classify(bars); got != RegimeCrash {
			t.Errorf("got %s, want %s", got, RegimeCrash)
		}
	})

	t.Run("just under seven percent is not crash", func(t *testing.T) {
		bars := flatBars(60, 100)
		bars[len(bars)-1].Close = 93.01
		if got := Classify(bars); got == RegimeCrash {
			t.Error("a -6.99% day should not classify as CRASH")
		}
	})

	t.Run("below sma with weak week is bear", func(t *testing.T) {
		bars := flatBars(60, 100)
		// drift down over the last five sessions, ending well under SMA50
		for i, c := range []float64{98, 97, 96, 95, 94} {
			bars[len(bars)-5+i].Close = c
		}
		if got := Classify(bars); got != RegimeBear {
			t.Errorf("got %s, want %s", got, RegimeBear)
		}
	})

	t.Run("above sma is bull", func(t *testing.T) {
		bars := flatBars(60, 100)
		for i := len(bars) - 10; i < len(bars); i++ {
			bars[i].Close = 104
		}
		if got := Classify(bars); got != RegimeBull {
			t.Errorf("got %s, want %s", got, RegimeBull)
		}
	})

	t.Run("too few bars defaults neutral", func(t *testing.T) {
		if got := Classify(flatBars(30, 100)); got != RegimeNeutral {
			t.Errorf("got %s, want %s", got, RegimeNeutral)
		}
	})
}

type countingData struct {
	bars  []broker.Bar
	calls int
}

func (c *countingData) GetSnapshot(ctx context.Context, symbol string) (*broker.Snapshot, error) {
	return nil, nil
}

func (c *countingData) GetLatestTrade(ctx context.Context, symbol string) (*broker.Trade, error) {
	return nil, nil
}

func (c *countingData) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]broker.Bar, error) {
	c.calls++
	return c.bars, nil
}

func TestRegimeCaching(t *testing.T) {
	data := &countingData{bars: flatBars(60, 100)}
	d := NewDetector(data, zerolog.Nop())
	base := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	now := base
	d.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if _, err := d.Regime(context.Background()); err != nil {
			t.Fatalf("Regime: %v", err)
		}
	}
	if data.calls != 1 {
		t.Errorf("bars fetched %d times within TTL, want 1", data.calls)
	}

	now = base.Add(31 * time.Minute)
	if _, err := d.Regime(context.Background()); err != nil {
		t.Fatalf("Regime after TTL: %v", err)
	}
	if data.calls != 2 {
		t.Errorf("bars fetched %d times after TTL, want 2", data.calls)
	}
}
