// Package broker talks to the brokerage and market-data REST APIs.
package broker

import (
	"context"
	"errors"
	"time"
)

// Order sides and types
const (
	SideBuy  = "buy"
	SideSell = "sell"

	TypeMarket = "market"
	TypeLimit  = "limit"

	TIFDay = "day"
)

// Order statuses as reported by the broker
const (
	OrderFilled         = "filled"
	OrderPartialFilled  = "partially_filled"
	OrderNew            = "new"
	OrderAccepted       = "accepted"
	OrderPendingNew     = "pending_new"
	OrderCanceled       = "canceled"
	OrderExpired        = "expired"
	OrderRejected       = "rejected"
	OrderDoneForDay     = "done_for_day"
	OrderPendingCancel  = "pending_cancel"
	OrderPendingReplace = "pending_replace"
)

// ErrPositionNotFound marks a missing broker position lookup.
var ErrPositionNotFound = errors.New("position not found")

// OrderRequest is a submit request. LimitPrice is required for limit orders.
type OrderRequest struct {
	Symbol        string
	Qty           float64
	Side          string
	Type          string
	LimitPrice    float64
	TimeInForce   string
	ClientOrderID string
}

// Order is the broker's view of a submitted order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           string
	Type           string
	Status         string
	Qty            float64
	FilledQty      float64
	FilledAvgPrice float64
	LimitPrice     float64
	SubmittedAt    time.Time
	FilledAt       *time.Time
	CanceledAt     *time.Time
}

// Terminal reports whether the order will see no further fills.
func (o *Order) Terminal() bool {
	switch o.Status {
	case OrderFilled, OrderCanceled, OrderExpired, OrderRejected, OrderDoneForDay:
		return true
	}
	return false
}

// Position is the broker's view of a holding.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
	CurrentPrice  float64
	UnrealizedPL  float64
}

// Trade is a last-trade print.
type Trade struct {
	Price     float64
	Size      int64
	Timestamp time.Time
}

// Snapshot bundles the latest trade and quote for a symbol.
type Snapshot struct {
	LatestTrade Trade
	Bid         float64
	Ask         float64
}

// Bar is one OHLCV bar.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// TradingClient is the order and position surface the executor and
// reconciler consume.
type TradingClient interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOpenOrders(ctx context.Context) ([]Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	ListPositions(ctx context.Context) ([]Position, error)
}

// DataClient is the market-data surface the price cache and scanners
// consume.
type DataClient interface {
	GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error)
	GetLatestTrade(ctx context.Context, symbol string) (*Trade, error)
	GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Bar, error)
}

// CallRecorder observes every outbound API call for rate accounting. The
// zero-value NopRecorder discards them.
type CallRecorder interface {
	Record(endpoint string)
}

// NopRecorder is a CallRecorder that drops every call.
type NopRecorder struct{}

func (NopRecorder) Record(string) {}
