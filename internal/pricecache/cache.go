// Package pricecache is a two-tier read-through quote cache: Redis for the
// fast tier, Postgres for the durable tier, and the market data feed behind
// both. Redis being down degrades to the durable tier instead of failing.
package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"equity-trading-bot/internal/broker"
	"equity-trading-bot/internal/database"
	"equity-trading-bot/internal/validate"
)

// Quote source tags, most authoritative last.
const (
	SourceRedis     = "cache_redis"
	SourceDB        = "cache_db"
	SourceSnapshot  = "snapshot"
	SourceLastTrade = "last_trade"
)

const (
	// DefaultTTL is how long a cached quote is served without refetching.
	DefaultTTL = 5 * time.Minute

	redisKeyPrefix = "price:"
)

// Store is the durable-tier surface.
type Store interface {
	UpsertPrice(ctx context.Context, e *database.PriceEntry) error
	GetPrice(ctx context.Context, ticker string) (*database.PriceEntry, error)
	DeleteStalePrices(ctx context.Context, cutoff time.Time) (int, error)
}

// Quote is a priced ticker with provenance.
type Quote struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	Bid       *float64  `json:"bid,omitempty"`
	Ask       *float64  `json:"ask,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Cache layers Redis over the durable store over the live feed.
type Cache struct {
	rdb   *redis.Client
	store Store
	data  broker.DataClient
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger
}

// New builds a cache. rdb may be nil, which disables the fast tier.
func New(rdb *redis.Client, store Store, data broker.DataClient, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		rdb:   rdb,
		store: store,
		data:  data,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.With().Str("component", "pricecache").Logger(),
	}
}

// SetClock overrides the time source for tests.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// Get returns a quote for the ticker, serving from cache when fresh and
// falling through to the feed otherwise. A quote exactly at the TTL boundary
// counts as stale.
func (c *Cache) Get(ctx context.Context, ticker string) (*Quote, error) {
	now := c.now()

	if q := c.fromRedis(ctx, ticker); q != nil && now.Sub(q.Timestamp) < c.ttl {
		q.Source = SourceRedis
		return q, nil
	}

	if e, err := c.store.GetPrice(ctx, ticker); err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("durable tier read failed")
	} else if e != nil && now.Sub(e.Timestamp) < c.ttl {
		q := quoteFromEntry(e)
		q.Source = SourceDB
		c.toRedis(ctx, q)
		return q, nil
	}

	return c.Refresh(ctx, ticker)
}

// Refresh fetches a fresh quote from the feed, validates it, and writes it
// through both tiers. A dead snapshot endpoint falls back to the latest
// trade alone.
func (c *Cache) Refresh(ctx context.Context, ticker string) (*Quote, error) {
	now := c.now()

	snap, err := c.data.GetSnapshot(ctx, ticker)
	if err == nil {
		if res := validate.Snapshot(snap); res.Critical() {
			return nil, fmt.Errorf("refresh %s: snapshot failed validation: %v", ticker, res.Findings)
		}
		q := &Quote{
			Ticker:    ticker,
			Price:     snap.LatestTrade.Price,
			Volume:    snap.LatestTrade.Size,
			Timestamp: now,
			Source:    SourceSnapshot,
		}
		if snap.Bid > 0 {
			bid := snap.Bid
			q.Bid = &bid
		}
		if snap.Ask > 0 {
			ask := snap.Ask
			q.Ask = &ask
		}
		c.writeThrough(ctx, q)
		return q, nil
	}
	c.log.Warn().Err(err).Str("ticker", ticker).Msg("snapshot fetch failed, trying latest trade")

	trade, err := c.data.GetLatestTrade(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", ticker, err)
	}
	if trade.Price <= 0 {
		return nil, fmt.Errorf("refresh %s: non-positive last trade", ticker)
	}
	q := &Quote{
		Ticker:    ticker,
		Price:     trade.Price,
		Volume:    trade.Size,
		Timestamp: now,
		Source:    SourceLastTrade,
	}
	c.writeThrough(ctx, q)
	return q, nil
}

// CleanStale drops durable-tier rows older than the TTL.
func (c *Cache) CleanStale(ctx context.Context) (int, error) {
	return c.store.DeleteStalePrices(ctx, c.now().Add(-c.ttl))
}

func (c *Cache) writeThrough(ctx context.Context, q *Quote) {
	entry := &database.PriceEntry{
		Ticker:    q.Ticker,
		Price:     q.Price,
		Volume:    q.Volume,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Timestamp: q.Timestamp,
		Source:    q.Source,
	}
	if err := c.store.UpsertPrice(ctx, entry); err != nil {
		c.log.Error().Err(err).Str("ticker", q.Ticker).Msg("durable tier write failed")
	}
	c.toRedis(ctx, q)
}

func (c *Cache) fromRedis(ctx context.Context, ticker string) *Quote {
	if c.rdb == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+ticker).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Msg("redis read failed")
		}
		return nil
	}
	var q Quote
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return nil
	}
	return &q
}

func (c *Cache) toRedis(ctx context.Context, q *Quote) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+q.Ticker, raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("redis write failed")
	}
}

func quoteFromEntry(e *database.PriceEntry) *Quote {
	return &Quote{
		Ticker:    e.Ticker,
		Price:     e.Price,
		Volume:    e.Volume,
		Bid:       e.Bid,
		Ask:       e.Ask,
		Timestamp: e.Timestamp,
		Source:    e.Source,
	}
}
