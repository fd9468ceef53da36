package backend

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SimBackend is the simulated ExecutionBackend: it fills every limit
// order immediately at its requested price and every market order at a
// caller-supplied reference price, with no network calls. Per-venue
// balance and tradeability checks are skipped by callers entirely when
// Name() == "sim" (§4.G steps 7 and 10); Balance/Tradeable below exist
// only so SimBackend satisfies the interface for tests that do call them
// directly.
type SimBackend struct {
	mu      sync.Mutex
	orders  map[string]OrderStatusResult
	nextID  uint64
	balance float64
}

// NewSimBackend creates a simulated backend with a fixed paper balance.
func NewSimBackend(startingBalanceUSD float64) *SimBackend {
	return &SimBackend{
		orders:  make(map[string]OrderStatusResult),
		balance: startingBalanceUSD,
	}
}

func (s *SimBackend) Name() string { return "sim" }

func (s *SimBackend) PlaceOrder(_ context.Context, req PlaceOrderRequest) (OrderAck, error) {
	id := atomic.AddUint64(&s.nextID, 1)
	orderID := fmt.Sprintf("sim-%d", id)

	s.mu.Lock()
	s.orders[orderID] = OrderStatusResult{
		OrderID:   orderID,
		State:     StateFilled,
		FilledQty: req.Size,
		AvgPrice:  req.Price,
	}
	s.mu.Unlock()

	return OrderAck{OrderID: orderID, Venue: req.Venue, AcceptedAt: time.Now().UnixNano()}, nil
}

func (s *SimBackend) CancelOrder(_ context.Context, _, orderID string) (CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.orders[orderID]
	if !ok {
		return CancelResult{Outcome: AlreadyFilled}, nil
	}
	if status.State == StateFilled {
		return CancelResult{Outcome: AlreadyFilled, FilledQty: status.FilledQty}, nil
	}
	status.State = StateCancelled
	s.orders[orderID] = status
	return CancelResult{Outcome: Cancelled}, nil
}

func (s *SimBackend) OrderStatus(_ context.Context, _, orderID string) (OrderStatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.orders[orderID]
	if !ok {
		return OrderStatusResult{}, fmt.Errorf("sim backend: unknown order %q", orderID)
	}
	return status, nil
}

func (s *SimBackend) Balance(_ context.Context, _ string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *SimBackend) Tradeable(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}
