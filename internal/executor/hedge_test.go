package executor

import (
	"context"
	"testing"

	"github.com/pieterjandubois/fundingspreadarb/internal/backend"
)

func TestHedgeMachine_CancelAndMarketHedge(t *testing.T) {
	be := backend.NewSimBackend(100000)
	ctx := context.Background()

	// Resting short leg that will be cancelled (not yet filled).
	restingAck, err := be.PlaceOrder(ctx, backend.PlaceOrderRequest{Venue: "okx", Symbol: "BTCUSDT", Side: backend.SideSell, Type: backend.OrderTypeLimit, Price: 60100, Size: 0.1})
	if err != nil {
		t.Fatalf("place resting: %v", err)
	}

	h := NewHedgeMachine(be, nil, testLogger())
	result, err := h.Execute(ctx, "BTCUSDT", "bybit", backend.SideBuy, 0.1, "okx", restingAck.OrderID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// SimBackend fills every placed order immediately, so the "cancel"
	// of the resting leg always observes AlreadyFilled.
	if result.State != HedgeStateHedged {
		t.Fatalf("expected Hedged, got %s", result.State)
	}
}

// cancellableBackend wraps SimBackend but lets a test force a clean
// Cancelled outcome (instead of SimBackend's always-AlreadyFilled) so
// the hedge state machine actually reaches the market-hedge/emergency-
// close branch, and records every market order it places.
type cancellableBackend struct {
	backend.ExecutionBackend
	marketOrders []backend.PlaceOrderRequest
}

func (b *cancellableBackend) CancelOrder(_ context.Context, venue, orderID string) (backend.CancelResult, error) {
	return backend.CancelResult{Outcome: backend.Cancelled}, nil
}

func (b *cancellableBackend) PlaceOrder(ctx context.Context, req backend.PlaceOrderRequest) (backend.OrderAck, error) {
	if req.Type == backend.OrderTypeMarket {
		b.marketOrders = append(b.marketOrders, req)
	}
	return b.ExecutionBackend.PlaceOrder(ctx, req)
}

type thinDepth struct{ depth float64 }

func (d thinDepth) FundingDelta(_, _, _ string) float64 { return 0.0002 }
func (d thinDepth) Depth(_, _ string) float64           { return d.depth }

func TestHedgeMachine_EmergencyClosesFilledLegWhenOppositeDepthThin(t *testing.T) {
	sim := backend.NewSimBackend(100000)
	be := &cancellableBackend{ExecutionBackend: sim}
	ctx := context.Background()

	restingAck, err := sim.PlaceOrder(ctx, backend.PlaceOrderRequest{Venue: "okx", Symbol: "BTCUSDT", Side: backend.SideSell, Type: backend.OrderTypeLimit, Price: 60100, Size: 0.1})
	if err != nil {
		t.Fatalf("place resting: %v", err)
	}

	// Hedge quantity is 0.1; depth of 0.05 is well under the 1.1x floor.
	h := NewHedgeMachine(be, thinDepth{depth: 0.05}, testLogger())
	result, err := h.Execute(ctx, "BTCUSDT", "bybit", backend.SideBuy, 0.1, "okx", restingAck.OrderID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.State != HedgeStateHedged {
		t.Fatalf("expected Hedged, got %s", result.State)
	}
	if !result.EmergencyClose {
		t.Fatal("expected EmergencyClose to be set")
	}
	if len(be.marketOrders) != 1 {
		t.Fatalf("expected exactly one market order, got %d", len(be.marketOrders))
	}
	mo := be.marketOrders[0]
	if mo.Venue != "bybit" || mo.Side != backend.SideSell {
		t.Fatalf("expected market close on bybit/SELL (closing the filled long), got %s/%s", mo.Venue, mo.Side)
	}
}

func TestHedgeMachine_HedgesNormallyWhenOppositeDepthSufficient(t *testing.T) {
	sim := backend.NewSimBackend(100000)
	be := &cancellableBackend{ExecutionBackend: sim}
	ctx := context.Background()

	restingAck, err := sim.PlaceOrder(ctx, backend.PlaceOrderRequest{Venue: "okx", Symbol: "BTCUSDT", Side: backend.SideSell, Type: backend.OrderTypeLimit, Price: 60100, Size: 0.1})
	if err != nil {
		t.Fatalf("place resting: %v", err)
	}

	h := NewHedgeMachine(be, thinDepth{depth: 15000}, testLogger())
	result, err := h.Execute(ctx, "BTCUSDT", "bybit", backend.SideBuy, 0.1, "okx", restingAck.OrderID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.EmergencyClose {
		t.Fatal("expected a normal hedge, not an emergency close")
	}
	if len(be.marketOrders) != 1 || be.marketOrders[0].Venue != "okx" {
		t.Fatalf("expected the market hedge on okx, got %+v", be.marketOrders)
	}
}

func TestHedgeGuard_RejectsReentry(t *testing.T) {
	g := newHedgeGuard()
	release, err := g.enter("BTCUSDT")
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	defer release()

	if _, err := g.enter("BTCUSDT"); err == nil {
		t.Fatal("expected ErrHedgeInProgress on re-entry")
	}
}

func TestHedgeGuard_ReleaseAllowsReentry(t *testing.T) {
	g := newHedgeGuard()
	release, err := g.enter("ETHUSDT")
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	release()

	if _, err := g.enter("ETHUSDT"); err != nil {
		t.Fatalf("expected re-entry to succeed after release, got %v", err)
	}
}
