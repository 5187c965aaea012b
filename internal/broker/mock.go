package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is an in-memory TradingClient and DataClient for dry runs and
// tests. Market orders fill instantly at the set price; limit orders fill
// when the limit crosses the price, otherwise they stay open.
type MockClient struct {
	mu        sync.Mutex
	prices    map[string]float64
	orders    map[string]*Order
	positions map[string]*Position
	nextID    int
}

func NewMockClient() *MockClient {
	return &MockClient{
		prices:    make(map[string]float64),
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
	}
}

// SetPrice sets the simulated market price for a symbol.
func (m *MockClient) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	if p, ok := m.positions[symbol]; ok {
		p.CurrentPrice = price
		p.UnrealizedPL = (price - p.AvgEntryPrice) * p.Qty
	}
}

func (m *MockClient) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.prices[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no price for %s", req.Symbol)
	}

	m.nextID++
	now := time.Now().UTC()
	order := &Order{
		ID:            fmt.Sprintf("mock-%d", m.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        OrderNew,
		Qty:           req.Qty,
		LimitPrice:    req.LimitPrice,
		SubmittedAt:   now,
	}

	fillPrice := price
	fills := req.Type == TypeMarket
	if req.Type == TypeLimit {
		if req.Side == SideBuy && req.LimitPrice >= price {
			fills = true
		}
		if req.Side == SideSell && req.LimitPrice <= price {
			fills = true
		}
		if fills {
			fillPrice = req.LimitPrice
		}
	}

	if fills {
		order.Status = OrderFilled
		order.FilledQty = req.Qty
		order.FilledAvgPrice = fillPrice
		order.FilledAt = &now
		m.applyFill(order)
	}

	m.orders[order.ID] = order
	cp := *order
	return &cp, nil
}

func (m *MockClient) applyFill(order *Order) {
	if order.Side == SideBuy {
		p, ok := m.positions[order.Symbol]
		if !ok {
			m.positions[order.Symbol] = &Position{
				Symbol:        order.Symbol,
				Qty:           order.FilledQty,
				AvgEntryPrice: order.FilledAvgPrice,
				CurrentPrice:  order.FilledAvgPrice,
			}
			return
		}
		total := p.Qty + order.FilledQty
		p.AvgEntryPrice = (p.AvgEntryPrice*p.Qty + order.FilledAvgPrice*order.FilledQty) / total
		p.Qty = total
		return
	}

	if p, ok := m.positions[order.Symbol]; ok {
		p.Qty -= order.FilledQty
		if p.Qty <= 0 {
			delete(m.positions, order.Symbol)
		}
	}
}

// FillOrder force-fills an open mock order at the given price.
func (m *MockClient) FillOrder(orderID string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("mock: unknown order %s", orderID)
	}
	if order.Terminal() {
		return fmt.Errorf("mock: order %s already terminal", orderID)
	}
	now := time.Now().UTC()
	order.Status = OrderFilled
	order.FilledQty = order.Qty
	order.FilledAvgPrice = price
	order.FilledAt = &now
	m.applyFill(order)
	return nil
}

func (m *MockClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("mock: unknown order %s", orderID)
	}
	cp := *order
	return &cp, nil
}

func (m *MockClient) ListOpenOrders(ctx context.Context) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []Order
	for _, o := range m.orders {
		if !o.Terminal() {
			open = append(open, *o)
		}
	}
	return open, nil
}

func (m *MockClient) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("mock: unknown order %s", orderID)
	}
	if order.Terminal() {
		return fmt.Errorf("mock: order %s already terminal", orderID)
	}
	now := time.Now().UTC()
	order.Status = OrderCanceled
	order.CanceledAt = &now
	return nil
}

func (m *MockClient) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return nil, ErrPositionNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockClient) ListPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var positions []Position
	for _, p := range m.positions {
		positions = append(positions, *p)
	}
	return positions, nil
}

// SetPosition seeds a broker-side position directly, for reconciler tests.
func (m *MockClient) SetPosition(symbol string, qty, avgEntry float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price := m.prices[symbol]
	if price == 0 {
		price = avgEntry
	}
	m.positions[symbol] = &Position{
		Symbol:        symbol,
		Qty:           qty,
		AvgEntryPrice: avgEntry,
		CurrentPrice:  price,
		UnrealizedPL:  (price - avgEntry) * qty,
	}
}

func (m *MockClient) GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no price for %s", symbol)
	}
	return &Snapshot{
		LatestTrade: Trade{Price: price, Size: 100, Timestamp: time.Now().UTC()},
		Bid:         price * 0.999,
		Ask:         price * 1.001,
	}, nil
}

func (m *MockClient) GetLatestTrade(ctx context.Context, symbol string) (*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no price for %s", symbol)
	}
	return &Trade{Price: price, Size: 100, Timestamp: time.Now().UTC()}, nil
}

func (m *MockClient) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no price for %s", symbol)
	}
	// One flat bar per day over the window keeps regime math predictable.
	var bars []Bar
	for t := start.UTC(); t.Before(end.UTC()); t = t.Add(24 * time.Hour) {
		bars = append(bars, Bar{Timestamp: t, Open: price, High: price, Low: price, Close: price, Volume: 1000})
	}
	return bars, nil
}
