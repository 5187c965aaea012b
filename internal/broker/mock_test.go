package broker

import (
	"context"
	"testing"
)

func TestMockMarketOrderFills(t *testing.T) {
	m := NewMockClient()
	m.SetPrice("ACME", 10.21)

	order, err := m.SubmitOrder(context.Background(), OrderRequest{
		Symbol: "ACME", Qty: 19, Side: SideBuy, Type: TypeMarket,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if order.Status != OrderFilled {
		t.Fatalf("status = %s, want filled", order.Status)
	}
	if order.FilledAvgPrice != 10.21 {
		t.Errorf("fill price = %v, want 10.21", order.FilledAvgPrice)
	}

	pos, err := m.GetPosition(context.Background(), "ACME")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.Qty != 19 {
		t.Errorf("position qty = %v, want 19", pos.Qty)
	}
}

func TestMockLimitOrderParksBelowMarket(t *testing.T) {
	m := NewMockClient()
	m.SetPrice("ACME", 10.50)

	order, err := m.SubmitOrder(context.Background(), OrderRequest{
		Symbol: "ACME", Qty: 10, Side: SideBuy, Type: TypeLimit, LimitPrice: 10.20,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if order.Terminal() {
		t.Fatalf("limit buy below market should stay open, got %s", order.Status)
	}

	open, err := m.ListOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("ListOpenOrders: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open orders = %d, want 1", len(open))
	}

	if err := m.FillOrder(order.ID, 10.20); err != nil {
		t.Fatalf("FillOrder: %v", err)
	}
	got, _ := m.GetOrder(context.Background(), order.ID)
	if got.Status != OrderFilled {
		t.Errorf("status after fill = %s, want filled", got.Status)
	}
}

func TestMockSellClosesPosition(t *testing.T) {
	m := NewMockClient()
	m.SetPrice("ACME", 10.00)
	m.SetPosition("ACME", 19, 10.21)

	_, err := m.SubmitOrder(context.Background(), OrderRequest{
		Symbol: "ACME", Qty: 19, Side: SideSell, Type: TypeMarket,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	if _, err := m.GetPosition(context.Background(), "ACME"); err != ErrPositionNotFound {
		t.Errorf("GetPosition after full sell = %v, want ErrPositionNotFound", err)
	}
}
