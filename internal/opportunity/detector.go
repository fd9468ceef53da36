package opportunity

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/pieterjandubois/fundingspreadarb/internal/fees"
	"github.com/pieterjandubois/fundingspreadarb/internal/marketdata"
	"github.com/pieterjandubois/fundingspreadarb/internal/ring"
	"github.com/pieterjandubois/fundingspreadarb/internal/symbolmap"
)

// Thresholds configures the detector's scoring gates (§4.E). Zero value
// is not valid; use DefaultThresholds.
type Thresholds struct {
	MinSpreadBps    float64
	MinFundingDelta float64
	MinConfidence   int
	SlippageBps     float64
	FundingCostBps  float64
	MinDepthUSD     float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSpreadBps:    10.0,
		MinFundingDelta: 0.0001,
		MinConfidence:   70,
		SlippageBps:     3.0,
		FundingCostBps:  10.0,
		MinDepthUSD:     10000.0,
	}
}

// candidateVenues is the fixed list of venues the detector considers
// when looking for other legs of a pair. It matches the fee table's
// known venues, so every candidate has its own fee-table entry.
var candidateVenues = fees.AllNames()

// FilterCounts are the four monotone rejection counters, periodically
// logged, never surfaced as errors (§4.E: "no errors are surfaced").
type FilterCounts struct {
	Spread     uint64
	Funding    uint64
	Confidence uint64
	Profit     uint64
}

// Detector is the single-threaded consumer that pops from the market
// pipeline, maintains the market data store, scores cross-venue pairs,
// and publishes to the opportunity queue. It owns its Store exclusively
// and must only ever be run from one goroutine.
type Detector struct {
	consumer *ring.Consumer[marketdata.Tick]
	store    *marketdata.Store
	symbols  *symbolmap.Map
	producer *ring.Producer[Opportunity]
	warm     WarmPathLookup
	th       Thresholds
	logger   *slog.Logger

	filters FilterCounts

	processedTicks uint64
	lastLogTicks   time.Time

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewDetector(
	consumer *ring.Consumer[marketdata.Tick],
	symbols *symbolmap.Map,
	producer *ring.Producer[Opportunity],
	warm WarmPathLookup,
	th Thresholds,
	logger *slog.Logger,
) *Detector {
	if warm == nil {
		warm = StubWarmPath{}
	}
	return &Detector{
		consumer: consumer,
		store:    marketdata.New(),
		symbols:  symbols,
		producer: producer,
		warm:     warm,
		th:       th,
		logger:   logger.With("component", "detector"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Filters returns a snapshot of the rejection counters.
func (d *Detector) Filters() FilterCounts {
	return FilterCounts{
		Spread:     atomic.LoadUint64(&d.filters.Spread),
		Funding:    atomic.LoadUint64(&d.filters.Funding),
		Confidence: atomic.LoadUint64(&d.filters.Confidence),
		Profit:     atomic.LoadUint64(&d.filters.Profit),
	}
}

// Store exposes the market data store for read-only diagnostics on the
// monitoring surface. Only the detector goroutine may mutate it.
func (d *Detector) Store() *marketdata.Store { return d.store }

// Run blocks, consuming the market pipeline until Shutdown is called.
// It suspends only for a ~10us cooperative yield when the pipeline is
// empty; no operation within detection itself suspends.
func (d *Detector) Run() {
	d.running.Store(true)
	defer close(d.doneCh)
	defer d.running.Store(false)

	d.lastLogTicks = time.Now()

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		tick, ok := d.consumer.Pop()
		if !ok {
			time.Sleep(10 * time.Microsecond)
			continue
		}

		d.processTick(tick)
	}
}

// Shutdown signals Run to stop and blocks until it has returned.
func (d *Detector) Shutdown() {
	if !d.running.Load() {
		return
	}
	close(d.stopCh)
	<-d.doneCh
}

func (d *Detector) processTick(t marketdata.Tick) {
	if !t.Valid() {
		return
	}
	d.store.Update(t.SymbolID, t.Bid, t.Ask, t.TimestampUS)

	atomic.AddUint64(&d.processedTicks, 1)
	if n := atomic.LoadUint64(&d.processedTicks); n%1000 == 0 {
		d.logger.Info("ticks processed", "count", n)
	}
	if time.Since(d.lastLogTicks) > 10*time.Second {
		d.lastLogTicks = time.Now()
		f := d.Filters()
		d.logger.Info("detector filter counts",
			"spread", f.Spread, "funding", f.Funding, "confidence", f.Confidence, "profit", f.Profit)
	}

	venue, symbol, ok := d.symbols.Get(t.SymbolID)
	if !ok {
		return
	}
	d.detectForSymbol(symbol, venue)
}

// detectForSymbol enumerates all other venues carrying the same symbol
// with a live (non-zero) bid, then evaluates both directions of every
// unordered venue pair.
func (d *Detector) detectForSymbol(symbol, updatedVenue string) {
	type candidate struct {
		venue string
		id    uint32
	}

	var candidates []candidate
	for _, v := range candidateVenues {
		id := d.symbols.GetOrInsert(v, symbol)
		if bid, ok := d.store.GetBid(id); ok && bid > 0 {
			candidates = append(candidates, candidate{venue: v, id: id})
		}
	}
	if len(candidates) < 2 {
		return
	}

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			c1, c2 := candidates[i], candidates[j]
			ask1, ok1 := d.store.GetAsk(c1.id)
			bid1, _ := d.store.GetBid(c1.id)
			ask2, ok2 := d.store.GetAsk(c2.id)
			bid2, _ := d.store.GetBid(c2.id)
			if !ok1 || !ok2 {
				continue
			}
			if ask1 > 0 && bid2 > 0 {
				d.checkOpportunity(symbol, c1.venue, c2.venue, ask1, bid2)
			}
			if ask2 > 0 && bid1 > 0 {
				d.checkOpportunity(symbol, c2.venue, c1.venue, ask2, bid1)
			}
		}
	}
	_ = updatedVenue // both directions are always checked regardless of which leg just updated
}

// checkOpportunity implements the §4.E pair-evaluation pipeline exactly
// once (the duplicated fee/profit block present in the source this was
// distilled from is not carried here — see DESIGN.md).
func (d *Detector) checkOpportunity(symbol, longVenue, shortVenue string, longAsk, shortBid float64) {
	spreadBps := (shortBid - longAsk) / longAsk * 10000
	if spreadBps <= d.th.MinSpreadBps {
		atomic.AddUint64(&d.filters.Spread, 1)
		return
	}

	fundingDelta := d.warm.FundingDelta(symbol, longVenue, shortVenue)
	if math.Abs(fundingDelta) < d.th.MinFundingDelta {
		atomic.AddUint64(&d.filters.Funding, 1)
		return
	}

	confidence := CalculateConfidence(spreadBps, fundingDelta)
	if confidence < d.th.MinConfidence {
		atomic.AddUint64(&d.filters.Confidence, 1)
		return
	}

	longFeeBps := fees.ByName(longVenue)
	shortFeeBps := fees.ByName(shortVenue)
	totalFeesBps := longFeeBps + shortFeeBps
	projectedProfitBps := spreadBps - totalFeesBps - d.th.SlippageBps - d.th.FundingCostBps
	if projectedProfitBps <= 0 {
		atomic.AddUint64(&d.filters.Profit, 1)
		return
	}

	depthLong := d.warm.Depth(longVenue, symbol)
	depthShort := d.warm.Depth(shortVenue, symbol)

	metrics := ConfluenceMetrics{
		FundingDelta:          fundingDelta,
		FundingDeltaProjected: fundingDelta,
		HardConstraints: HardConstraints{
			DepthSufficient:    depthLong >= d.th.MinDepthUSD && depthShort >= d.th.MinDepthUSD,
			LatencyOK:          true, // constant: no latency source is consulted
			FundingSubstantial: math.Abs(fundingDelta) >= d.th.MinFundingDelta,
		},
	}

	opp := Opportunity{
		Symbol:                   symbol,
		LongVenue:                longVenue,
		ShortVenue:               shortVenue,
		LongPrice:                longAsk,
		ShortPrice:               shortBid,
		SpreadBps:                spreadBps,
		FundingDelta8h:           fundingDelta,
		ConfidenceScore:          confidence,
		ProjectedProfitUSD:       projectedProfitBps / 10000.0 * 1000.0, // assumes a $1000 notional for this display estimate only
		ProjectedProfitAfterSlip: projectedProfitBps,
		Metrics:                  metrics,
		DepthLongUSD:             depthLong,
		DepthShortUSD:            depthShort,
		TimestampUnixSeconds:     time.Now().Unix(),
	}

	d.logger.Info("opportunity detected",
		"symbol", symbol, "long", longVenue, "short", shortVenue,
		"spread_bps", spreadBps, "confidence", confidence, "profit_bps", projectedProfitBps)

	d.producer.Push(opp)
}

// CalculateConfidence combines spread and funding-delta contributions
// with a 20-point base, clamped to [0, 100].
func CalculateConfidence(spreadBps, fundingDelta float64) int {
	score := 20.0
	score += math.Min(1, spreadBps/50.0) * 50.0
	score += math.Min(1, math.Abs(fundingDelta)/0.01) * 30.0
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}
