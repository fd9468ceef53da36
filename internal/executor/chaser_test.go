package executor

import (
	"context"
	"testing"

	"github.com/pieterjandubois/fundingspreadarb/internal/backend"
)

type fakeBook struct {
	price float64
}

func (f *fakeBook) Price(_ string, _ backend.Side) (float64, bool) { return f.price, true }

func TestPolicyForConfidence(t *testing.T) {
	cases := []struct {
		confidence int
		want       ExecutionMode
	}{
		{95, ModeUltraFast},
		{90, ModeUltraFast},
		{80, ModeBalanced},
		{75, ModeBalanced},
		{60, ModeSafe},
	}
	for _, c := range cases {
		if got := PolicyForConfidence(c.confidence).Mode; got != c.want {
			t.Errorf("confidence %d: got %s, want %s", c.confidence, got, c.want)
		}
	}
}

func TestPriceChaser_TerminatesOnFill(t *testing.T) {
	be := backend.NewSimBackend(100000)
	ack, _ := be.PlaceOrder(context.Background(), backend.PlaceOrderRequest{Venue: "bybit", Symbol: "BTCUSDT", Side: backend.SideBuy, Type: backend.OrderTypeLimit, Price: 60000, Size: 0.1})

	book := &fakeBook{price: 60000}
	chaser := NewPriceChaser(be, book, testLogger())
	policy := PolicyForConfidence(95)
	policy.RepriceIntervalMs = 5
	policy.TotalTimeoutSeconds = 1

	result := chaser.Chase(context.Background(), "bybit", "BTCUSDT", ack.OrderID, backend.SideBuy, 60000, 0.1, policy)
	if result.Termination != TerminationFilled {
		t.Fatalf("expected fill termination since SimBackend fills immediately, got %s", result.Termination)
	}
}

type fakeDepth struct{ depth float64 }

func (d fakeDepth) FundingDelta(_, _, _ string) float64 { return 0.0002 }
func (d fakeDepth) Depth(_, _ string) float64           { return d.depth }

func TestPriceChaser_Preflight(t *testing.T) {
	chaser := NewPriceChaser(backend.NewSimBackend(100000), &fakeBook{price: 60000}, testLogger())

	ultraFast := PolicyForConfidence(95)
	if !chaser.Preflight(fakeDepth{depth: 0}, "bybit", "okx", "BTCUSDT", 10000, ultraFast) {
		t.Fatal("expected UltraFast to skip the preflight check entirely")
	}

	balanced := PolicyForConfidence(80)
	if !chaser.Preflight(fakeDepth{depth: 15000}, "bybit", "okx", "BTCUSDT", 10000, balanced) {
		t.Fatal("expected Balanced preflight to pass with sufficient depth")
	}
	if chaser.Preflight(fakeDepth{depth: 5000}, "bybit", "okx", "BTCUSDT", 10000, balanced) {
		t.Fatal("expected Balanced preflight to fail with insufficient depth")
	}

	safe := PolicyForConfidence(60)
	if chaser.Preflight(fakeDepth{depth: 5000}, "bybit", "okx", "BTCUSDT", 10000, safe) {
		t.Fatal("expected Safe preflight to fail with insufficient depth")
	}
}
