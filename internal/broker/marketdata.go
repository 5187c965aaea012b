package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// DataHTTPClient implements DataClient against the market-data REST API.
type DataHTTPClient struct {
	baseURL    string
	apiKey     string
	secretKey  string
	feed       string
	httpClient *http.Client
	recorder   CallRecorder
	log        zerolog.Logger
}

func NewDataHTTPClient(baseURL, apiKey, secretKey, feed string, recorder CallRecorder, logger zerolog.Logger) *DataHTTPClient {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &DataHTTPClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		secretKey: secretKey,
		feed:      feed,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		recorder: recorder,
		log:      logger.With().Str("component", "marketdata").Logger(),
	}
}

type tradeWire struct {
	Price     float64   `json:"p"`
	Size      int64     `json:"s"`
	Timestamp time.Time `json:"t"`
}

type quoteWire struct {
	BidPrice float64 `json:"bp"`
	AskPrice float64 `json:"ap"`
}

type snapshotWire struct {
	LatestTrade *tradeWire `json:"latestTrade"`
	LatestQuote *quoteWire `json:"latestQuote"`
}

type barWire struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    int64     `json:"v"`
}

// GetSnapshot fetches the latest trade and quote. Bid maps to the quote's
// bid and ask to the ask.
func (c *DataHTTPClient) GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	path := fmt.Sprintf("/v2/stocks/%s/snapshot?feed=%s", url.PathEscape(symbol), c.feed)

	var wire snapshotWire
	if err := c.get(ctx, path, &wire); err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", symbol, err)
	}
	if wire.LatestTrade == nil {
		return nil, fmt.Errorf("get snapshot %s: no latest trade", symbol)
	}

	snap := &Snapshot{
		LatestTrade: Trade{
			Price:     wire.LatestTrade.Price,
			Size:      wire.LatestTrade.Size,
			Timestamp: wire.LatestTrade.Timestamp,
		},
	}
	if wire.LatestQuote != nil {
		snap.Bid = wire.LatestQuote.BidPrice
		snap.Ask = wire.LatestQuote.AskPrice
	}
	return snap, nil
}

func (c *DataHTTPClient) GetLatestTrade(ctx context.Context, symbol string) (*Trade, error) {
	path := fmt.Sprintf("/v2/stocks/%s/trades/latest?feed=%s", url.PathEscape(symbol), c.feed)

	var wire struct {
		Trade tradeWire `json:"trade"`
	}
	if err := c.get(ctx, path, &wire); err != nil {
		return nil, fmt.Errorf("get latest trade %s: %w", symbol, err)
	}
	return &Trade{
		Price:     wire.Trade.Price,
		Size:      wire.Trade.Size,
		Timestamp: wire.Trade.Timestamp,
	}, nil
}

func (c *DataHTTPClient) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Bar, error) {
	path := fmt.Sprintf("/v2/stocks/%s/bars?timeframe=%s&start=%s&end=%s&feed=%s&limit=10000",
		url.PathEscape(symbol), url.QueryEscape(timeframe),
		url.QueryEscape(start.UTC().Format(time.RFC3339)),
		url.QueryEscape(end.UTC().Format(time.RFC3339)), c.feed)

	var wire struct {
		Bars []barWire `json:"bars"`
	}
	if err := c.get(ctx, path, &wire); err != nil {
		return nil, fmt.Errorf("get bars %s %s: %w", symbol, timeframe, err)
	}

	bars := make([]Bar, 0, len(wire.Bars))
	for _, b := range wire.Bars {
		bars = append(bars, Bar{
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return bars, nil
}

func (c *DataHTTPClient) get(ctx context.Context, path string, out any) error {
	c.recorder.Record(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
