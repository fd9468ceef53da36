package backend

import "context"

// ExecutionBackend is the capability the executor and hedge state machine
// place orders through. A real backend talks to a venue's REST API; a
// simulated one exists so the system can run end-to-end without capital
// at risk (§4.G: "either a real two-leg placement ... or a simulated
// one").
type ExecutionBackend interface {
	// Name identifies the backend mode, e.g. "live" or "sim". The
	// executor's per-venue balance and tradeability checks are skipped
	// entirely in simulation (§4.G steps 7 and 10).
	Name() string

	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, venue, orderID string) (CancelResult, error)
	OrderStatus(ctx context.Context, venue, orderID string) (OrderStatusResult, error)

	// Balance returns the free collateral available at a venue, in USD.
	Balance(ctx context.Context, venue string) (float64, error)

	// Tradeable reports whether a symbol currently accepts new orders at
	// a venue (e.g. not halted, not in reduce-only mode).
	Tradeable(ctx context.Context, venue, symbol string) (bool, error)
}

// IsSimulated reports whether a backend is the simulated implementation.
func IsSimulated(b ExecutionBackend) bool {
	return b.Name() == "sim"
}
