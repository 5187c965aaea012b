package ignore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/database"
)

type fakeStore struct {
	entries map[string]*database.IgnoreEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*database.IgnoreEntry)}
}

func (f *fakeStore) GetIgnoreEntry(ctx context.Context, ticker string) (*database.IgnoreEntry, error) {
	e, ok := f.entries[ticker]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) UpsertIgnoreEntry(ctx context.Context, e *database.IgnoreEntry) error {
	cp := *e
	f.entries[e.Ticker] = &cp
	return nil
}

func (f *fakeStore) DeleteIgnoreEntry(ctx context.Context, ticker string) error {
	delete(f.entries, ticker)
	return nil
}

func (f *fakeStore) CountActiveIgnores(ctx context.Context, now time.Time) (int, error) {
	n := 0
	for _, e := range f.entries {
		if e.TTLUTC.After(now) {
			n++
		}
	}
	return n, nil
}

func TestBackoffEscalation(t *testing.T) {
	store := newFakeStore()
	l := NewList(store, zerolog.Nop())

	base := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)
	now := base
	l.SetClock(func() time.Time { return now })

	ctx := context.Background()

	wantTTLs := []time.Duration{
		time.Hour,
		4 * time.Hour,
		24 * time.Hour,
		7 * 24 * time.Hour,
		7 * 24 * time.Hour, // capped at level 4
	}

	for i, wantTTL := range wantTTLs {
		if err := l.Add(ctx, "ACME", "NO_DATA", ScopeAll); err != nil {
			t.Fatalf("Add #%d: %v", i+1, err)
		}
		e := store.entries["ACME"]
		wantLevel := i + 1
		if wantLevel > 4 {
			wantLevel = 4
		}
		if e.BackoffLevel != wantLevel {
			t.Errorf("after add #%d: backoff_level = %d, want %d", i+1, e.BackoffLevel, wantLevel)
		}
		if got := e.TTLUTC.Sub(now); got != wantTTL {
			t.Errorf("after add #%d: ttl = %v, want %v", i+1, got, wantTTL)
		}
		if e.RetryCount != i+1 {
			t.Errorf("after add #%d: retry_count = %d, want %d", i+1, e.RetryCount, i+1)
		}
	}

	// first_seen survives escalation
	if got := store.entries["ACME"].FirstSeen; !got.Equal(base) {
		t.Errorf("first_seen = %v, want %v", got, base)
	}
}

func TestIsIgnoredExpiry(t *testing.T) {
	store := newFakeStore()
	l := NewList(store, zerolog.Nop())

	base := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)
	now := base
	l.SetClock(func() time.Time { return now })

	ctx := context.Background()
	if err := l.Add(ctx, "ACME", "NO_DATA", ScopeAll); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if on, _ := l.IsIgnored(ctx, "ACME", "RSI"); !on {
		t.Error("ticker should be ignored inside the TTL")
	}

	now = base.Add(61 * time.Minute)
	if on, _ := l.IsIgnored(ctx, "ACME", "RSI"); on {
		t.Error("ticker should not be ignored after the TTL expires")
	}
}

func TestScopedIgnore(t *testing.T) {
	store := newFakeStore()
	l := NewList(store, zerolog.Nop())
	l.SetClock(func() time.Time { return time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC) })

	ctx := context.Background()
	if err := l.Add(ctx, "ACME", "BAD_FILLS", "RSI"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if on, _ := l.IsIgnored(ctx, "ACME", "RSI"); !on {
		t.Error("scoped entry should cover its own strategy")
	}
	if on, _ := l.IsIgnored(ctx, "ACME", "BOLLINGER"); on {
		t.Error("scoped entry should not cover other strategies")
	}
}

func TestReset(t *testing.T) {
	store := newFakeStore()
	l := NewList(store, zerolog.Nop())
	l.SetClock(func() time.Time { return time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC) })

	ctx := context.Background()
	if err := l.Add(ctx, "ACME", "NO_DATA", ScopeAll); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := l.Reset(ctx, "ACME"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if on, _ := l.IsIgnored(ctx, "ACME", "RSI"); on {
		t.Error("ticker should not be ignored after reset")
	}

	// A fresh offense starts over at level 1.
	if err := l.Add(ctx, "ACME", "NO_DATA", ScopeAll); err != nil {
		t.Fatalf("Add after reset: %v", err)
	}
	if got := store.entries["ACME"].BackoffLevel; got != 1 {
		t.Errorf("backoff_level after reset = %d, want 1", got)
	}
}
