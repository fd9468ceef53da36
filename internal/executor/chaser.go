package executor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/pieterjandubois/fundingspreadarb/internal/backend"
	"github.com/pieterjandubois/fundingspreadarb/internal/opportunity"
)

// ExecutionMode is the confidence-derived chasing policy (§4.I).
type ExecutionMode int

const (
	ModeUltraFast ExecutionMode = iota
	ModeBalanced
	ModeSafe
)

func (m ExecutionMode) String() string {
	switch m {
	case ModeUltraFast:
		return "ULTRA_FAST"
	case ModeBalanced:
		return "BALANCED"
	case ModeSafe:
		return "SAFE"
	default:
		return "UNKNOWN"
	}
}

// ChaserPolicy bundles the tunables for one execution mode.
type ChaserPolicy struct {
	Mode                      ExecutionMode
	RepriceThresholdBps       float64
	RepriceIntervalMs         int
	MaxReprices               int
	TotalTimeoutSeconds       int
	SpreadCollapseThresholdBps float64

	// PreflightDepthCheck controls whether the chaser verifies resting
	// depth before placing the initial limit. UltraFast skips it (always
	// runs the hedge depth check regardless); Balanced runs it in
	// parallel across both legs (~10ms budget); Safe runs it
	// sequentially, with no time bound.
	PreflightDepthCheck bool
	ParallelPreflight   bool
}

func defaultPolicy(mode ExecutionMode) ChaserPolicy {
	p := ChaserPolicy{
		Mode:                       mode,
		RepriceThresholdBps:        5,
		RepriceIntervalMs:          100,
		MaxReprices:                5,
		TotalTimeoutSeconds:        3,
		SpreadCollapseThresholdBps: 50,
	}
	switch mode {
	case ModeUltraFast:
		p.PreflightDepthCheck = false
	case ModeBalanced:
		p.PreflightDepthCheck = true
		p.ParallelPreflight = true
	case ModeSafe:
		p.PreflightDepthCheck = true
		p.ParallelPreflight = false
	}
	return p
}

// PolicyForConfidence selects the execution mode from a confidence score
// (§4.I: ">=90 UltraFast, 75-89 Balanced, <75 Safe").
func PolicyForConfidence(confidence int) ChaserPolicy {
	switch {
	case confidence >= 90:
		return defaultPolicy(ModeUltraFast)
	case confidence >= 75:
		return defaultPolicy(ModeBalanced)
	default:
		return defaultPolicy(ModeSafe)
	}
}

// RepriceEvent records one cancel/replace in the chase timeline.
type RepriceEvent struct {
	At       time.Time
	OldPrice float64
	NewPrice float64
}

// TerminationReason identifies why the chaser stopped.
type TerminationReason string

const (
	TerminationFilled         TerminationReason = "filled"
	TerminationMaxReprices    TerminationReason = "max_reprices"
	TerminationTimeout        TerminationReason = "timeout"
	TerminationSpreadCollapse TerminationReason = "spread_collapse"
)

// ChaseResult is the metrics record returned on termination.
type ChaseResult struct {
	Symbol         string
	Venue          string
	InitialPrice   float64
	FinalPrice     float64
	NetImprovementBps float64
	RepriceCount   int
	TotalDuration  time.Duration
	Timeline       []RepriceEvent
	Termination    TerminationReason
}

// TopOfBook is the minimal price feed the chaser polls. A real caller
// backs this with the shared market data store.
type TopOfBook interface {
	Price(symbol string, side backend.Side) (float64, bool)
}

// PriceChaser re-prices a single resting limit order as the market moves
// away from it, within bounded reprices and a non-resetting total
// timeout (§4.I).
type PriceChaser struct {
	be     backend.ExecutionBackend
	book   TopOfBook
	logger *slog.Logger
}

func NewPriceChaser(be backend.ExecutionBackend, book TopOfBook, logger *slog.Logger) *PriceChaser {
	return &PriceChaser{be: be, book: book, logger: logger.With("component", "chaser")}
}

// Preflight runs the policy's mode-dependent depth check across both
// legs before the initial limit orders are placed (§4.I). UltraFast
// skips it outright. Balanced checks both venues concurrently, within
// a ~10ms budget; Safe checks them one at a time and applies no time
// bound. Either leg falling short of minDepthUSD fails the preflight.
func (c *PriceChaser) Preflight(depth opportunity.WarmPathLookup, longVenue, shortVenue, symbol string, minDepthUSD float64, policy ChaserPolicy) bool {
	if !policy.PreflightDepthCheck {
		return true
	}

	budget := 50 * time.Millisecond
	if policy.ParallelPreflight {
		budget = 10 * time.Millisecond
	}

	check := func() bool {
		return depth.Depth(longVenue, symbol) >= minDepthUSD && depth.Depth(shortVenue, symbol) >= minDepthUSD
	}

	if !policy.ParallelPreflight {
		return check()
	}

	longCh := make(chan bool, 1)
	shortCh := make(chan bool, 1)
	go func() { longCh <- depth.Depth(longVenue, symbol) >= minDepthUSD }()
	go func() { shortCh <- depth.Depth(shortVenue, symbol) >= minDepthUSD }()

	timer := time.NewTimer(budget)
	defer timer.Stop()
	var longOK, shortOK bool
	for i := 0; i < 2; i++ {
		select {
		case longOK = <-longCh:
		case shortOK = <-shortCh:
		case <-timer.C:
			c.logger.Warn("preflight depth check exceeded budget", "symbol", symbol, "budget", budget)
			return false
		}
	}
	return longOK && shortOK
}

// Chase drives one resting order until fill, reprice exhaustion, total
// timeout, or spread collapse. orderID/currentPrice describe the
// initially-placed limit.
func (c *PriceChaser) Chase(ctx context.Context, venue, symbol, orderID string, side backend.Side, currentPrice, size float64, policy ChaserPolicy) *ChaseResult {
	start := time.Now()
	deadline := start.Add(time.Duration(policy.TotalTimeoutSeconds) * time.Second)

	result := &ChaseResult{Symbol: symbol, Venue: venue, InitialPrice: currentPrice, FinalPrice: currentPrice}
	ticker := time.NewTicker(time.Duration(policy.RepriceIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.cancelAndFinish(ctx, venue, orderID, result, TerminationTimeout, start)
			return result
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			c.cancelAndFinish(ctx, venue, orderID, result, TerminationTimeout, start)
			return result
		}

		status, err := c.be.OrderStatus(ctx, venue, orderID)
		if err == nil && status.State == backend.StateFilled {
			result.FinalPrice = status.AvgPrice
			result.Termination = TerminationFilled
			result.TotalDuration = time.Since(start)
			result.NetImprovementBps = netImprovementBps(result.InitialPrice, result.FinalPrice, side)
			return result
		}

		top, ok := c.book.Price(symbol, side.Opposite())
		if !ok {
			continue
		}

		// Deviation of the resting price from the opposite side's
		// current top, in bps. Used both as the reprice trigger and,
		// against a looser threshold, as the spread-collapse signal —
		// a resting order that has drifted this far from the market is
		// treated the same as a collapsed entry spread (§4.I).
		deviationBps := math.Abs(top-currentPrice) / currentPrice * 10000
		if deviationBps > policy.SpreadCollapseThresholdBps {
			c.cancelAndFinish(ctx, venue, orderID, result, TerminationSpreadCollapse, start)
			return result
		}
		if deviationBps <= policy.RepriceThresholdBps {
			continue
		}

		if result.RepriceCount >= policy.MaxReprices {
			c.cancelAndFinish(ctx, venue, orderID, result, TerminationMaxReprices, start)
			return result
		}

		cancelRes, err := c.be.CancelOrder(ctx, venue, orderID)
		if err != nil {
			continue
		}
		if cancelRes.Outcome == backend.AlreadyFilled {
			result.Termination = TerminationFilled
			result.FinalPrice = currentPrice
			result.TotalDuration = time.Since(start)
			return result
		}

		ack, err := c.be.PlaceOrder(ctx, backend.PlaceOrderRequest{
			Venue: venue, Symbol: symbol, Side: side, Type: backend.OrderTypeLimit, Price: top, Size: size,
		})
		if err != nil {
			c.logger.Error("reprice failed", "symbol", symbol, "err", err)
			c.cancelAndFinish(ctx, venue, orderID, result, TerminationMaxReprices, start)
			return result
		}

		result.Timeline = append(result.Timeline, RepriceEvent{At: time.Now(), OldPrice: currentPrice, NewPrice: top})
		result.RepriceCount++
		currentPrice = top
		orderID = ack.OrderID
		result.FinalPrice = currentPrice
	}
}

func (c *PriceChaser) cancelAndFinish(ctx context.Context, venue, orderID string, result *ChaseResult, reason TerminationReason, start time.Time) {
	_, _ = c.be.CancelOrder(ctx, venue, orderID)
	result.Termination = reason
	result.TotalDuration = time.Since(start)
}

func netImprovementBps(initial, final float64, side backend.Side) float64 {
	if initial == 0 {
		return 0
	}
	delta := (final - initial) / initial * 10000
	if side == backend.SideSell {
		return delta
	}
	return -delta
}
