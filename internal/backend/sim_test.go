package backend

import (
	"context"
	"testing"
)

func TestSimBackend_PlaceOrderFillsImmediately(t *testing.T) {
	b := NewSimBackend(100000)
	ack, err := b.PlaceOrder(context.Background(), PlaceOrderRequest{
		Venue: "bybit", Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeLimit, Price: 60000, Size: 0.1,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	status, err := b.OrderStatus(context.Background(), "bybit", ack.OrderID)
	if err != nil {
		t.Fatalf("order status: %v", err)
	}
	if status.State != StateFilled {
		t.Fatalf("expected filled, got %s", status.State)
	}
	if status.FilledQty != 0.1 {
		t.Fatalf("expected filled qty 0.1, got %v", status.FilledQty)
	}
}

func TestSimBackend_CancelOnFilledOrderReturnsAlreadyFilled(t *testing.T) {
	b := NewSimBackend(100000)
	ack, _ := b.PlaceOrder(context.Background(), PlaceOrderRequest{Venue: "okx", Symbol: "ETHUSDT", Side: SideSell, Type: OrderTypeLimit, Price: 3000, Size: 1})
	result, err := b.CancelOrder(context.Background(), "okx", ack.OrderID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.Outcome != AlreadyFilled {
		t.Fatalf("expected AlreadyFilled, got %s", result.Outcome)
	}
}

func TestSimBackend_CancelUnknownOrderIsAlreadyFilled(t *testing.T) {
	b := NewSimBackend(100000)
	result, err := b.CancelOrder(context.Background(), "okx", "does-not-exist")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.Outcome != AlreadyFilled {
		t.Fatalf("expected AlreadyFilled, got %s", result.Outcome)
	}
}

func TestIsUnknownOrderError(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"Order not found", true},
		{"error code 110001: unknown order sent", true},
		{"insufficient balance", false},
	}
	for _, c := range cases {
		if got := IsUnknownOrderError(c.msg); got != c.want {
			t.Errorf("IsUnknownOrderError(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}
