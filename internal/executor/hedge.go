package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pieterjandubois/fundingspreadarb/internal/backend"
	"github.com/pieterjandubois/fundingspreadarb/internal/opportunity"
)

// emergencyCloseDepthMultiple is the opposite-side depth floor, as a
// multiple of the hedge quantity, below which §4.G calls for closing the
// already-filled leg at market instead of hedging on the other venue —
// placing the hedge order itself would walk through depth that isn't
// there and realize far more slippage than the spread was worth.
const emergencyCloseDepthMultiple = 1.1

// HedgeState is a position in the §4.H state machine.
type HedgeState int

const (
	HedgeStateBothPending HedgeState = iota
	HedgeStateOneFilled
	HedgeStateCancelling
	HedgeStatePlacingMarketHedge
	HedgeStateHedged
	HedgeStateFailed
)

func (s HedgeState) String() string {
	switch s {
	case HedgeStateBothPending:
		return "BOTH_PENDING"
	case HedgeStateOneFilled:
		return "ONE_FILLED"
	case HedgeStateCancelling:
		return "CANCELLING"
	case HedgeStatePlacingMarketHedge:
		return "PLACING_MARKET_HEDGE"
	case HedgeStateHedged:
		return "HEDGED"
	case HedgeStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// HedgeResult is the structured summary logged at the end of a hedge,
// carrying every edge timestamp the state machine's timing budgets are
// measured against.
type HedgeResult struct {
	Symbol      string
	State       HedgeState
	FailReason  string

	FillDetectedAt         time.Time
	OtherLegCheckAt        time.Time
	CancelInitiatedAt      time.Time
	CancelCompletedAt      time.Time
	MarketOrderInitiatedAt time.Time
	MarketOrderAcceptedAt  time.Time
	MarketOrderFilledAt    time.Time

	TotalDurationMs int64
	EmergencyClose  bool
}

// ErrHedgeInProgress is returned by the guard when a hedge is already
// running for a symbol.
type ErrHedgeInProgress struct{ Symbol string }

func (e *ErrHedgeInProgress) Error() string {
	return fmt.Sprintf("hedge already in progress for %s", e.Symbol)
}

// hedgeGuard is a symbol-keyed set gating entry into the hedge routine,
// independent of the executor's duplicate-symbol reservation (§4.H:
// "independent of the duplicate-symbol reservation in §4.G").
type hedgeGuard struct {
	mu         sync.Mutex
	inProgress map[string]bool
}

func newHedgeGuard() *hedgeGuard {
	return &hedgeGuard{inProgress: make(map[string]bool)}
}

// enter returns a release func to be called on scope exit (defer),
// RAII-style, or an error if a hedge for this symbol is already running.
func (g *hedgeGuard) enter(symbol string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inProgress[symbol] {
		return nil, &ErrHedgeInProgress{Symbol: symbol}
	}
	g.inProgress[symbol] = true
	return func() {
		g.mu.Lock()
		delete(g.inProgress, symbol)
		g.mu.Unlock()
	}, nil
}

type statusCacheKey struct {
	venue   string
	orderID string
}

type statusCacheEntry struct {
	result    backend.OrderStatusResult
	cachedAt  time.Time
}

// statusCache memoizes OrderStatus lookups for 50ms per (venue, order
// id) so tight hedge poll loops don't hammer venues (§4.H).
type statusCache struct {
	mu      sync.Mutex
	entries map[statusCacheKey]statusCacheEntry
	ttl     time.Duration
}

func newStatusCache() *statusCache {
	return &statusCache{entries: make(map[statusCacheKey]statusCacheEntry), ttl: 50 * time.Millisecond}
}

func (c *statusCache) get(ctx context.Context, be backend.ExecutionBackend, venue, orderID string) (backend.OrderStatusResult, error) {
	key := statusCacheKey{venue: venue, orderID: orderID}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Since(e.cachedAt) < c.ttl {
		c.mu.Unlock()
		return e.result, nil
	}
	c.mu.Unlock()

	var result backend.OrderStatusResult
	var err error
	for attempt := 0; attempt <= 2; attempt++ {
		result, err = be.OrderStatus(ctx, venue, orderID)
		if err == nil {
			break
		}
		if attempt < 2 {
			time.Sleep(100 * time.Millisecond)
		}
	}
	if err != nil {
		return backend.OrderStatusResult{}, err
	}

	c.mu.Lock()
	c.entries[key] = statusCacheEntry{result: result, cachedAt: time.Now()}
	c.mu.Unlock()
	return result, nil
}

// marketHedgeRetries and its backoff schedule (§4.H: "up to N attempts
// (default 3) with exponential backoff starting at 100ms doubling").
const marketHedgeRetries = 3

var marketHedgeBackoff = 100 * time.Millisecond

// HedgeMachine runs the fill-detected-to-hedged state machine for a
// single leg pair.
type HedgeMachine struct {
	backend     backend.ExecutionBackend
	depth       opportunity.WarmPathLookup
	guard       *hedgeGuard
	statusCache *statusCache
	logger      *slog.Logger
}

// NewHedgeMachine wires a hedge state machine to its backend and its
// opposite-side depth source. depth reuses the detector's
// opportunity.WarmPathLookup collaborator rather than a new interface,
// since both are "is there enough resting size on this venue" queries;
// nil defaults to opportunity.StubWarmPath{}.
func NewHedgeMachine(be backend.ExecutionBackend, depth opportunity.WarmPathLookup, logger *slog.Logger) *HedgeMachine {
	if depth == nil {
		depth = opportunity.StubWarmPath{}
	}
	return &HedgeMachine{
		backend:     be,
		depth:       depth,
		guard:       newHedgeGuard(),
		statusCache: newStatusCache(),
		logger:      logger.With("component", "hedge"),
	}
}

// Execute runs the state machine for a trade where filledVenue/filledSide
// already reported a fill of filledQty, and otherVenue/otherOrderID is
// the opposite leg still resting.
func (h *HedgeMachine) Execute(ctx context.Context, symbol, filledVenue string, filledSide backend.Side, filledQty float64, otherVenue, otherOrderID string) (*HedgeResult, error) {
	release, err := h.guard.enter(symbol)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &HedgeResult{Symbol: symbol, State: HedgeStateOneFilled, FillDetectedAt: time.Now()}

	// fill_detected_at -> cancel_initiated_at must be <50ms: no logging
	// or non-critical work precedes the cancel on this edge.
	result.OtherLegCheckAt = time.Now()
	result.CancelInitiatedAt = time.Now()
	result.State = HedgeStateCancelling

	cancelRes, err := h.backend.CancelOrder(ctx, otherVenue, otherOrderID)
	result.CancelCompletedAt = time.Now()
	if err != nil {
		result.State = HedgeStateFailed
		result.FailReason = err.Error()
		return result, err
	}

	switch cancelRes.Outcome {
	case backend.AlreadyFilled:
		// Both legs filled naturally; no naked position, skip hedge.
		h.logger.Info("hedge skipped: opposite leg already filled", "symbol", symbol)
		result.State = HedgeStateHedged
		result.TotalDurationMs = time.Since(result.FillDetectedAt).Milliseconds()
		return result, nil
	case backend.CancelFailed:
		result.State = HedgeStateFailed
		result.FailReason = cancelRes.FailReason
		h.logger.Error("hedge cancel failed", "symbol", symbol, "reason", cancelRes.FailReason)
		return result, fmt.Errorf("hedge: cancel failed for %s: %s", symbol, cancelRes.FailReason)
	}

	result.State = HedgeStatePlacingMarketHedge
	result.MarketOrderInitiatedAt = time.Now()

	// Emergency close (§4.G): if the other venue no longer has at least
	// 1.1x the hedge quantity resting, hedging there would itself realize
	// more slippage than the spread was worth. Close the already-filled
	// leg at market on its own venue instead of hedging on the other one.
	hedgeVenue, hedgeSide := otherVenue, filledSide.Opposite()
	requiredDepth := filledQty * emergencyCloseDepthMultiple
	if otherDepth := h.depth.Depth(otherVenue, symbol); otherDepth < requiredDepth {
		result.EmergencyClose = true
		hedgeVenue, hedgeSide = filledVenue, filledSide.Opposite()
		h.logger.Info("emergency close: insufficient opposite-side depth",
			"symbol", symbol, "other_venue", otherVenue, "depth", otherDepth, "required", requiredDepth)
	}

	ack, err := h.placeMarketHedgeWithRetry(ctx, hedgeVenue, symbol, hedgeSide, filledQty)
	if err != nil {
		result.State = HedgeStateFailed
		result.FailReason = err.Error()
		h.logger.Error("hedge market order failed", "symbol", symbol, "err", err)
		return result, err
	}
	result.MarketOrderAcceptedAt = time.Now()

	if _, err := h.statusCache.get(ctx, h.backend, hedgeVenue, ack.OrderID); err != nil {
		result.State = HedgeStateFailed
		result.FailReason = err.Error()
		return result, err
	}
	result.MarketOrderFilledAt = time.Now()

	result.State = HedgeStateHedged
	result.TotalDurationMs = result.MarketOrderFilledAt.Sub(result.FillDetectedAt).Milliseconds()
	h.logger.Info("hedge complete", "symbol", symbol, "duration_ms", result.TotalDurationMs)
	return result, nil
}

func (h *HedgeMachine) placeMarketHedgeWithRetry(ctx context.Context, venue, symbol string, side backend.Side, size float64) (backend.OrderAck, error) {
	backoff := marketHedgeBackoff
	var lastErr error
	for attempt := 0; attempt < marketHedgeRetries; attempt++ {
		ack, err := h.backend.PlaceOrder(ctx, backend.PlaceOrderRequest{
			Venue: venue, Symbol: symbol, Side: side, Type: backend.OrderTypeMarket, Size: size,
			ClientRef: fmt.Sprintf("%s-hedge-%d", symbol, attempt),
		})
		if err == nil {
			return ack, nil
		}
		lastErr = err
		if attempt < marketHedgeRetries-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return backend.OrderAck{}, fmt.Errorf("hedge: market order failed after %d attempts: %w", marketHedgeRetries, lastErr)
}
