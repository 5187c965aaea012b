package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/database"
)

type fakeStore struct {
	entries map[string]*database.CooldownEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*database.CooldownEntry)}
}

func (f *fakeStore) UpsertCooldown(ctx context.Context, c *database.CooldownEntry) error {
	key := c.Ticker + "/" + c.Strategy
	if existing, ok := f.entries[key]; ok && existing.CooldownUntil.After(c.CooldownUntil) {
		// keep the later expiry, matching the repository
		later := *c
		later.CooldownUntil = existing.CooldownUntil
		f.entries[key] = &later
		return nil
	}
	cp := *c
	f.entries[key] = &cp
	return nil
}

func (f *fakeStore) GetCooldown(ctx context.Context, ticker, strategy string) (*database.CooldownEntry, error) {
	e, ok := f.entries[ticker+"/"+strategy]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func TestDurationFor(t *testing.T) {
	tests := []struct {
		reason string
		want   time.Duration
	}{
		{ReasonStopLoss, 60 * time.Minute},
		{ReasonTakeProfit, 30 * time.Minute},
		{ReasonRejected, 15 * time.Minute},
		{"FORCE_CLOSE", 60 * time.Minute},
		{"", 60 * time.Minute},
	}
	for _, tt := range tests {
		if got := DurationFor(tt.reason); got != tt.want {
			t.Errorf("DurationFor(%q) = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestSetAndCheck(t *testing.T) {
	store := newFakeStore()
	m := NewMap(store, zerolog.Nop())

	base := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	now := base
	m.SetClock(func() time.Time { return now })

	ctx := context.Background()
	if err := m.Set(ctx, "ACME", "RSI", ReasonStopLoss); err != nil {
		t.Fatalf("Set: %v", err)
	}

	on, err := m.IsOnCooldown(ctx, "ACME", "RSI")
	if err != nil {
		t.Fatalf("IsOnCooldown: %v", err)
	}
	if !on {
		t.Error("pair should be on cooldown immediately after a stop loss")
	}

	// Other strategy is unaffected.
	on, _ = m.IsOnCooldown(ctx, "ACME", "BOLLINGER")
	if on {
		t.Error("different strategy should not be on cooldown")
	}

	// At 59 minutes: still locked. At 61: free.
	now = base.Add(59 * time.Minute)
	if on, _ = m.IsOnCooldown(ctx, "ACME", "RSI"); !on {
		t.Error("should still be on cooldown at 59 minutes")
	}
	now = base.Add(61 * time.Minute)
	if on, _ = m.IsOnCooldown(ctx, "ACME", "RSI"); on {
		t.Error("should be free after 61 minutes")
	}
}

func TestLaterExpiryWins(t *testing.T) {
	store := newFakeStore()
	m := NewMap(store, zerolog.Nop())

	base := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	now := base
	m.SetClock(func() time.Time { return now })

	ctx := context.Background()
	// 60m stop-loss lockout, then a 15m rejection should not shorten it.
	if err := m.Set(ctx, "ACME", "RSI", ReasonStopLoss); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(ctx, "ACME", "RSI", ReasonRejected); err != nil {
		t.Fatalf("Set: %v", err)
	}

	now = base.Add(30 * time.Minute)
	on, err := m.IsOnCooldown(ctx, "ACME", "RSI")
	if err != nil {
		t.Fatalf("IsOnCooldown: %v", err)
	}
	if !on {
		t.Error("the longer stop-loss expiry should survive the shorter rejection")
	}
}
