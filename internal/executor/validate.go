// Package executor implements the Atomic Entry Executor (§4.G): the
// fail-fast validation pipeline that turns a detected Opportunity into
// either a placed two-leg trade or a typed rejection, with a
// duplicate-symbol reservation that guarantees a single in-flight trade
// per symbol.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pieterjandubois/fundingspreadarb/internal/backend"
	"github.com/pieterjandubois/fundingspreadarb/internal/fees"
	"github.com/pieterjandubois/fundingspreadarb/internal/marketdata"
	"github.com/pieterjandubois/fundingspreadarb/internal/opportunity"
	"github.com/pieterjandubois/fundingspreadarb/internal/portfolio"
	"github.com/pieterjandubois/fundingspreadarb/internal/ring"
	"github.com/pieterjandubois/fundingspreadarb/internal/symbolmap"
)

// TradeStatus is the trade record's lifecycle state.
type TradeStatus int

const (
	TradeStatusPending TradeStatus = iota
	TradeStatusActive
	TradeStatusExiting
	TradeStatusClosed
)

func (s TradeStatus) String() string {
	switch s {
	case TradeStatusPending:
		return "PENDING"
	case TradeStatusActive:
		return "ACTIVE"
	case TradeStatusExiting:
		return "EXITING"
	case TradeStatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// TradeRecord is the executor's owned record of a placed (or
// placeholder) trade.
type TradeRecord struct {
	ID                string
	Symbol            string
	LongVenue         string
	ShortVenue        string
	EntryTime         time.Time
	EntryLongPrice    float64
	EntryShortPrice   float64
	EntrySpreadBps    float64
	PositionSizeUSD   float64
	FundingDeltaEntry float64
	ProjectedProfitUSD float64
	LongOrder         backend.OrderAck
	ShortOrder        backend.OrderAck
	Status            TradeStatus
	ExitReason        string
}

// RejectReason is a typed rejection returned when execute_opportunity
// declines to trade (§4.G: "surfaces a typed rejection", not a panic or
// a bare error string).
type RejectReason string

const (
	RejectDuplicateSymbol     RejectReason = "duplicate_symbol"
	RejectNoPrices            RejectReason = "no_prices"
	RejectInsufficientDepth   RejectReason = "insufficient_depth"
	RejectHighLatency         RejectReason = "high_latency"
	RejectInsufficientFunding RejectReason = "insufficient_funding_delta"
	RejectNegativeSpread      RejectReason = "negative_spread"
	RejectUnprofitable        RejectReason = "unprofitable"
	RejectNoCapital           RejectReason = "no_capital"
	RejectBalanceCheckFailed  RejectReason = "balance_check_failed"
	RejectInsufficientBalance RejectReason = "insufficient_exchange_balance"
	RejectInvalidPositionSize RejectReason = "invalid_position_size"
	RejectExceedsCapital      RejectReason = "position_size_exceeds_capital"
	RejectLowConfidence       RejectReason = "low_confidence"
	RejectNotTradeable        RejectReason = "not_tradeable"
	RejectPlacementTimeout    RejectReason = "placement_timeout"
	RejectPlacementFailed     RejectReason = "placement_failed"
	RejectSpreadCollapse      RejectReason = "spread_collapse"
)

// RejectError is the error type ExecuteOpportunity returns on any
// fail-fast step. Callers that only care whether a trade was placed can
// treat any non-nil error uniformly; callers that care why can type-assert.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

const (
	minExchangeBalanceUSD = 10.0
	minConfidenceToEnter  = 70
	placementTimeout      = 15 * time.Second
	slippageBps           = 3.0
	fundingCostBps        = 10.0

	// spreadCollapseThresholdBps is the maximum drift, in bps, between the
	// spread an opportunity was scored at and the spread observed again
	// after the long leg is live. Spec §8 scenario 6: a 100bps entry
	// collapsing to 30bps (a 70bps drift) must abort the trade.
	spreadCollapseThresholdBps = 50.0
)

// Config carries the tunables execute_opportunity re-validates against.
type Config struct {
	MinDepthUSD      float64
	StartingCapitalUSD float64
	MaxPositionFraction float64 // fraction of starting capital per trade
}

func DefaultConfig() Config {
	return Config{
		MinDepthUSD:         10000.0,
		StartingCapitalUSD:  50000.0,
		MaxPositionFraction: 0.1,
	}
}

// Executor is the Atomic Entry Executor. It owns the duplicate-symbol
// reservation table; Portfolio, Store, and Backend are shared
// collaborators supplied by the caller.
type Executor struct {
	store     *marketdata.Store
	portfolio *portfolio.Portfolio
	backend   backend.ExecutionBackend
	cfg       Config
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*TradeRecord // symbol -> trade record

	ids          *symbolmap.Map
	execProducer *ring.Producer[marketdata.OrderRequest]
}

// New wires an Executor to its collaborators. ids is the shared
// (venue, symbol) -> store-slot map; freshPrices uses it to translate
// an opportunity's venue/symbol pair into the Store's internal index,
// so it must be the same Map the market data producer resolves ids
// against, not a throwaway instance.
func New(store *marketdata.Store, ids *symbolmap.Map, pf *portfolio.Portfolio, be backend.ExecutionBackend, cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		store:     store,
		ids:       ids,
		portfolio: pf,
		backend:   be,
		cfg:       cfg,
		logger:    logger.With("component", "executor"),
		active:    make(map[string]*TradeRecord),
	}
}

// SetExecutionPipeline attaches the §4.F execution pipeline ring as an
// audit-trail sink: every order placeAtomic actually sends to a backend
// is additionally recorded here. Placement itself always stays a
// direct, synchronous backend call — the atomic-pair/cancel-on-failure
// semantics in this file require a blocking result, not a fire-and-
// forget ring publish — so this ring is a record of what went out, not
// a queue of what to send. Left unset (nil), no records are pushed;
// this is the default and every existing caller is unaffected.
func (e *Executor) SetExecutionPipeline(producer *ring.Producer[marketdata.OrderRequest]) {
	e.execProducer = producer
}

func (e *Executor) recordOrderRequest(venue, symbol string, side backend.Side, orderType backend.OrderType, price, size float64, orderID string) {
	if e.execProducer == nil || e.ids == nil {
		return
	}
	reqSide := marketdata.SideBuy
	if side == backend.SideSell {
		reqSide = marketdata.SideSell
	}
	reqType := marketdata.OrderTypeLimit
	if orderType == backend.OrderTypeMarket {
		reqType = marketdata.OrderTypeMarket
	}
	e.execProducer.Push(marketdata.OrderRequest{
		OrderID:     orderIDHash(orderID),
		SymbolID:    e.ids.GetOrInsert(venue, symbol),
		Side:        reqSide,
		OrderType:   reqType,
		Price:       price,
		Size:        size,
		TimestampUS: uint64(time.Now().UnixMicro()),
	})
}

// orderIDHash maps a backend's string order id onto the execution
// pipeline's fixed uint64 field; FNV-1a since these ids only need to
// round-trip as a stable audit key, not be reversible.
func orderIDHash(id string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(id); i++ {
		h ^= uint64(id[i])
		h *= prime64
	}
	return h
}

// ExecuteOpportunity runs the full fail-fast validation pipeline
// described in §4.G and either places a trade or returns a *RejectError.
func (e *Executor) ExecuteOpportunity(ctx context.Context, opp opportunity.Opportunity) (*TradeRecord, error) {
	e.logger.Info("opportunity received", "symbol", opp.Symbol, "spread_bps", opp.SpreadBps, "confidence", opp.ConfidenceScore)

	// Step 1: duplicate symbol reservation.
	if err := e.reserve(opp); err != nil {
		return nil, err
	}
	cleanExit := true
	defer func() {
		if cleanExit {
			e.release(opp.Symbol)
		}
	}()

	// Step 2: fresh-price fetch.
	longAsk, shortBid, err := e.freshPrices(opp)
	if err != nil {
		return nil, err
	}

	// Step 3: re-validate hard constraints.
	if err := e.checkHardConstraints(opp); err != nil {
		return nil, err
	}

	// Step 4: re-compute spread.
	spreadBps := (shortBid - longAsk) / longAsk * 10000
	if spreadBps <= 0 {
		e.logger.Info("rejected: negative spread", "symbol", opp.Symbol, "spread_bps", spreadBps)
		return nil, &RejectError{Reason: RejectNegativeSpread}
	}

	// Step 5: fee + profit check.
	longFeeBps := fees.ByName(opp.LongVenue)
	shortFeeBps := fees.ByName(opp.ShortVenue)
	totalFeeBps := longFeeBps + shortFeeBps
	netProfitBps := spreadBps - totalFeeBps - slippageBps - fundingCostBps
	if netProfitBps <= 0 {
		e.logger.Info("rejected: unprofitable", "symbol", opp.Symbol, "net_profit_bps", netProfitBps)
		return nil, &RejectError{Reason: RejectUnprofitable}
	}

	// Step 6: capital availability.
	availableCapital := e.portfolio.AvailableCapital()
	if availableCapital <= 0 || e.portfolio.IsKillSwitchActive() {
		return nil, &RejectError{Reason: RejectNoCapital}
	}

	// Step 7: per-venue balance check (skipped in simulation).
	if !backend.IsSimulated(e.backend) {
		longBalance, err := e.backend.Balance(ctx, opp.LongVenue)
		if err != nil {
			return nil, &RejectError{Reason: RejectBalanceCheckFailed, Detail: err.Error()}
		}
		shortBalance, err := e.backend.Balance(ctx, opp.ShortVenue)
		if err != nil {
			return nil, &RejectError{Reason: RejectBalanceCheckFailed, Detail: err.Error()}
		}
		if math.Min(longBalance, shortBalance) < minExchangeBalanceUSD {
			return nil, &RejectError{Reason: RejectInsufficientBalance}
		}
	}

	// Step 8: position sizing.
	positionSize := calculatePositionSize(spreadBps, availableCapital, totalFeeBps, fundingCostBps, e.cfg.StartingCapitalUSD, e.cfg.MaxPositionFraction)
	if positionSize <= 0 {
		return nil, &RejectError{Reason: RejectInvalidPositionSize}
	}
	if positionSize > availableCapital {
		return nil, &RejectError{Reason: RejectExceedsCapital}
	}

	// Step 9: re-check confidence.
	confidence := opp.ConfidenceScore
	if !opp.Metrics.HardConstraints.DepthSufficient || !opp.Metrics.HardConstraints.LatencyOK || !opp.Metrics.HardConstraints.FundingSubstantial {
		confidence = 0
	}
	if confidence < minConfidenceToEnter {
		return nil, &RejectError{Reason: RejectLowConfidence}
	}

	// Step 10: tradeability check (real mode only).
	if !backend.IsSimulated(e.backend) {
		longOK, err := e.backend.Tradeable(ctx, opp.LongVenue, opp.Symbol)
		if err != nil || !longOK {
			return nil, &RejectError{Reason: RejectNotTradeable, Detail: opp.LongVenue}
		}
		shortOK, err := e.backend.Tradeable(ctx, opp.ShortVenue, opp.Symbol)
		if err != nil || !shortOK {
			return nil, &RejectError{Reason: RejectNotTradeable, Detail: opp.ShortVenue}
		}
	}

	// Step 11: atomic placement under a 15s timeout.
	trade, err := e.placeAtomic(ctx, opp, longAsk, shortBid, spreadBps, positionSize)
	if err != nil {
		e.logger.Error("placement failed", "symbol", opp.Symbol, "err", err)
		return nil, err
	}

	// Step 12: commit to portfolio, log.
	if err := e.portfolio.Open(portfolio.Position{
		Symbol:      opp.Symbol,
		LongVenue:   opp.LongVenue,
		ShortVenue:  opp.ShortVenue,
		SizeUSD:     positionSize,
		EntrySpread: spreadBps,
	}); err != nil {
		e.logger.Error("portfolio open failed after placement", "symbol", opp.Symbol, "err", err)
	}

	e.mu.Lock()
	e.active[opp.Symbol] = trade
	e.mu.Unlock()
	cleanExit = false // replaced placeholder with the real trade; do not release on defer

	e.logger.Info("trade entered", "symbol", opp.Symbol, "size_usd", positionSize, "spread_bps", spreadBps)
	return trade, nil
}

func (e *Executor) reserve(opp opportunity.Opportunity) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.active[opp.Symbol]; ok && (existing.Status == TradeStatusActive || existing.Status == TradeStatusExiting) {
		return &RejectError{Reason: RejectDuplicateSymbol}
	}

	e.active[opp.Symbol] = &TradeRecord{
		ID:         "placeholder",
		Symbol:     opp.Symbol,
		LongVenue:  opp.LongVenue,
		ShortVenue: opp.ShortVenue,
		Status:     TradeStatusActive,
	}
	return nil
}

// release removes the reservation (placeholder or otherwise) on any
// early-exit path, RAII-style via defer in the caller.
func (e *Executor) release(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, symbol)
}

// freshPrices re-reads the long ask / short bid directly from the
// shared Store at validation time, rather than trusting the prices the
// opportunity was scored at — the whole point of §4.G's re-validation
// step is to catch a spread that has moved or collapsed in the gap
// between detection and placement.
func (e *Executor) freshPrices(opp opportunity.Opportunity) (longAsk, shortBid float64, err error) {
	longID := e.ids.GetOrInsert(opp.LongVenue, opp.Symbol)
	shortID := e.ids.GetOrInsert(opp.ShortVenue, opp.Symbol)

	ask, ok := e.store.GetAsk(longID)
	if !ok || ask <= 0 {
		return 0, 0, &RejectError{Reason: RejectNoPrices, Detail: opp.LongVenue}
	}
	bid, ok := e.store.GetBid(shortID)
	if !ok || bid <= 0 {
		return 0, 0, &RejectError{Reason: RejectNoPrices, Detail: opp.ShortVenue}
	}
	return ask, bid, nil
}

func (e *Executor) checkHardConstraints(opp opportunity.Opportunity) error {
	hc := opp.Metrics.HardConstraints
	if !hc.DepthSufficient {
		e.logger.Info("rejected: insufficient depth", "symbol", opp.Symbol,
			"depth_long", opp.DepthLongUSD, "depth_short", opp.DepthShortUSD)
		return &RejectError{Reason: RejectInsufficientDepth}
	}
	if !hc.LatencyOK {
		return &RejectError{Reason: RejectHighLatency}
	}
	if !hc.FundingSubstantial {
		return &RejectError{Reason: RejectInsufficientFunding}
	}
	return nil
}

func (e *Executor) placeAtomic(ctx context.Context, opp opportunity.Opportunity, longAsk, shortBid, spreadBps, positionSize float64) (*TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, placementTimeout)
	defer cancel()

	longSize := positionSize / longAsk
	shortSize := positionSize / shortBid

	longAck, err := e.backend.PlaceOrder(ctx, backend.PlaceOrderRequest{
		Venue: opp.LongVenue, Symbol: opp.Symbol, Side: backend.SideBuy, Type: backend.OrderTypeLimit,
		Price: longAsk, Size: longSize, ClientRef: opp.Symbol + "-long",
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &RejectError{Reason: RejectPlacementTimeout}
		}
		return nil, &RejectError{Reason: RejectPlacementFailed, Detail: err.Error()}
	}
	e.recordOrderRequest(opp.LongVenue, opp.Symbol, backend.SideBuy, backend.OrderTypeLimit, longAsk, longSize, longAck.OrderID)

	// Spread-collapse abort (§4.G, §8 scenario 6): the long leg is now
	// live, so re-check the market one more time before committing the
	// short leg. A drift past spreadCollapseThresholdBps means the
	// opportunity no longer exists; cancel the open leg and decline
	// rather than complete a now-unprofitable pair.
	if currentAsk, currentBid, err := e.freshPrices(opp); err == nil {
		currentSpreadBps := (currentBid - currentAsk) / currentAsk * 10000
		if math.Abs(currentSpreadBps-opp.SpreadBps) > spreadCollapseThresholdBps {
			_, _ = e.backend.CancelOrder(ctx, opp.LongVenue, longAck.OrderID)
			e.logger.Info("rejected: spread collapse", "symbol", opp.Symbol,
				"entry_spread_bps", opp.SpreadBps, "current_spread_bps", currentSpreadBps)
			return nil, &RejectError{Reason: RejectSpreadCollapse}
		}
	}

	shortAck, err := e.backend.PlaceOrder(ctx, backend.PlaceOrderRequest{
		Venue: opp.ShortVenue, Symbol: opp.Symbol, Side: backend.SideSell, Type: backend.OrderTypeLimit,
		Price: shortBid, Size: shortSize, ClientRef: opp.Symbol + "-short",
	})
	if err != nil {
		// one leg is now live; cancel it rather than leave a naked position.
		_, _ = e.backend.CancelOrder(ctx, opp.LongVenue, longAck.OrderID)
		if ctx.Err() != nil {
			return nil, &RejectError{Reason: RejectPlacementTimeout}
		}
		return nil, &RejectError{Reason: RejectPlacementFailed, Detail: err.Error()}
	}
	e.recordOrderRequest(opp.ShortVenue, opp.Symbol, backend.SideSell, backend.OrderTypeLimit, shortBid, shortSize, shortAck.OrderID)

	projectedProfitBps := (spreadBps * 0.9) - (fees.ByName(opp.LongVenue) + fees.ByName(opp.ShortVenue))
	return &TradeRecord{
		ID:                  fmt.Sprintf("%s-%d", opp.Symbol, time.Now().UnixNano()),
		Symbol:              opp.Symbol,
		LongVenue:           opp.LongVenue,
		ShortVenue:          opp.ShortVenue,
		EntryTime:           time.Now(),
		EntryLongPrice:      longAsk,
		EntryShortPrice:     shortBid,
		EntrySpreadBps:      spreadBps,
		PositionSizeUSD:     positionSize,
		FundingDeltaEntry:   opp.FundingDelta8h,
		ProjectedProfitUSD:  projectedProfitBps / 10000.0 * positionSize,
		LongOrder:           longAck,
		ShortOrder:          shortAck,
		Status:              TradeStatusActive,
	}, nil
}

// calculatePositionSize returns a USD notional bounded by available
// capital, a fixed fraction of starting capital (the per-trade risk
// budget), and the fee/funding breakeven already enforced by the
// caller's net-profit check; the spread itself scales the size
// linearly, reaching the full cap at 50 bps.
func calculatePositionSize(spreadBps, availableCapital, totalFeeBps, fundingCostBps, startingCapital, maxFraction float64) float64 {
	if spreadBps-totalFeeBps-fundingCostBps <= 0 {
		return 0
	}
	budget := startingCapital * maxFraction
	if budget > availableCapital {
		budget = availableCapital
	}
	scale := math.Min(1, spreadBps/50.0)
	size := budget * scale
	if size <= 0 {
		return 0
	}
	return size
}
