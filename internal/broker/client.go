package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient implements TradingClient against the brokerage REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	secretKey  string
	httpClient *http.Client
	recorder   CallRecorder
	log        zerolog.Logger
}

func NewHTTPClient(baseURL, apiKey, secretKey string, recorder CallRecorder, logger zerolog.Logger) *HTTPClient {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &HTTPClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		recorder: recorder,
		log:      logger.With().Str("component", "broker").Logger(),
	}
}

// orderWire is the broker's order JSON. Quantities and prices arrive as
// strings.
type orderWire struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	Qty            float64    `json:"qty,string"`
	FilledQty      float64    `json:"filled_qty,string"`
	FilledAvgPrice *float64   `json:"filled_avg_price,string"`
	LimitPrice     *float64   `json:"limit_price,string"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
	CanceledAt     *time.Time `json:"canceled_at"`
}

func (w *orderWire) toOrder() *Order {
	o := &Order{
		ID:            w.ID,
		ClientOrderID: w.ClientOrderID,
		Symbol:        w.Symbol,
		Side:          w.Side,
		Type:          w.Type,
		Status:        w.Status,
		Qty:           w.Qty,
		FilledQty:     w.FilledQty,
		SubmittedAt:   w.SubmittedAt,
		FilledAt:      w.FilledAt,
		CanceledAt:    w.CanceledAt,
	}
	if w.FilledAvgPrice != nil {
		o.FilledAvgPrice = *w.FilledAvgPrice
	}
	if w.LimitPrice != nil {
		o.LimitPrice = *w.LimitPrice
	}
	return o
}

type positionWire struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty,string"`
	AvgEntryPrice float64 `json:"avg_entry_price,string"`
	CurrentPrice  float64 `json:"current_price,string"`
	UnrealizedPL  float64 `json:"unrealized_pl,string"`
}

func (w *positionWire) toPosition() Position {
	return Position{
		Symbol:        w.Symbol,
		Qty:           w.Qty,
		AvgEntryPrice: w.AvgEntryPrice,
		CurrentPrice:  w.CurrentPrice,
		UnrealizedPL:  w.UnrealizedPL,
	}
}

// SubmitOrder places an order. All orders go out with day time-in-force
// unless the request says otherwise.
func (c *HTTPClient) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.TimeInForce == "" {
		req.TimeInForce = TIFDay
	}

	body := map[string]string{
		"symbol":        req.Symbol,
		"qty":           fmt.Sprintf("%g", req.Qty),
		"side":          req.Side,
		"type":          req.Type,
		"time_in_force": req.TimeInForce,
	}
	if req.Type == TypeLimit {
		body["limit_price"] = fmt.Sprintf("%g", req.LimitPrice)
	}
	if req.ClientOrderID != "" {
		body["client_order_id"] = req.ClientOrderID
	}

	var wire orderWire
	if err := c.do(ctx, http.MethodPost, "/v2/orders", body, &wire); err != nil {
		return nil, fmt.Errorf("submit order %s %s: %w", req.Side, req.Symbol, err)
	}

	c.log.Info().
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("type", req.Type).
		Float64("qty", req.Qty).
		Str("order_id", wire.ID).
		Str("status", wire.Status).
		Msg("order submitted")

	return wire.toOrder(), nil
}

func (c *HTTPClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var wire orderWire
	if err := c.do(ctx, http.MethodGet, "/v2/orders/"+url.PathEscape(orderID), nil, &wire); err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return wire.toOrder(), nil
}

func (c *HTTPClient) ListOpenOrders(ctx context.Context) ([]Order, error) {
	var wires []orderWire
	if err := c.do(ctx, http.MethodGet, "/v2/orders?status=open&limit=500", nil, &wires); err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	orders := make([]Order, 0, len(wires))
	for i := range wires {
		orders = append(orders, *wires[i].toOrder())
	}
	return orders, nil
}

func (c *HTTPClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.do(ctx, http.MethodDelete, "/v2/orders/"+url.PathEscape(orderID), nil, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

func (c *HTTPClient) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	var wire positionWire
	err := c.do(ctx, http.MethodGet, "/v2/positions/"+url.PathEscape(symbol), nil, &wire)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrPositionNotFound
		}
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}
	p := wire.toPosition()
	return &p, nil
}

func (c *HTTPClient) ListPositions(ctx context.Context) ([]Position, error) {
	var wires []positionWire
	if err := c.do(ctx, http.MethodGet, "/v2/positions", nil, &wires); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	positions := make([]Position, 0, len(wires))
	for i := range wires {
		positions = append(positions, wires[i].toPosition())
	}
	return positions, nil
}

// apiError carries the broker's non-2xx response.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("broker API status %d: %s", e.StatusCode, e.Body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	c.recorder.Record(path)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
