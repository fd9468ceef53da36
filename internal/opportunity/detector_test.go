package opportunity

import (
	"io"
	"log/slog"
	"testing"

	"github.com/pieterjandubois/fundingspreadarb/internal/marketdata"
	"github.com/pieterjandubois/fundingspreadarb/internal/ring"
	"github.com/pieterjandubois/fundingspreadarb/internal/symbolmap"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDetector builds a detector with its own queue so tests can pop
// published opportunities directly; warm defaults to StubWarmPath when nil.
func newTestDetector(th Thresholds, warm WarmPathLookup) (*Detector, *ring.Consumer[Opportunity]) {
	symbols := symbolmap.New()
	q := NewQueue()
	d := NewDetector(nil, symbols, q.Producer(), warm, th, testLogger())
	return d, q.Consumer()
}

// TestDetector_SingleVenueTickProducesNoOpportunity is spec.md §8's
// first seed scenario: one venue's tick carries a ~2bps bid/ask spread
// but, with no second venue quoting the symbol, detectForSymbol never
// has a pair to evaluate.
func TestDetector_SingleVenueTickProducesNoOpportunity(t *testing.T) {
	d, consumer := newTestDetector(DefaultThresholds(), nil)

	id := d.symbols.GetOrInsert("bybit", "BTCUSDT")
	tick := marketdata.Tick{SymbolID: id, Bid: 50000, Ask: 50010, TimestampUS: 1_000_000}

	gotSpreadBps := (tick.Ask - tick.Bid) / tick.Bid * 10000
	if gotSpreadBps < 1.9 || gotSpreadBps > 2.1 {
		t.Fatalf("test fixture spread = %.4fbps, want ~2bps", gotSpreadBps)
	}

	d.processTick(tick)

	if _, ok := consumer.Pop(); ok {
		t.Fatal("expected no opportunity from a single-venue tick")
	}
}

// TestDetector_CrossVenueSpreadProducesOpportunity is spec.md §8's
// second seed scenario: bybit asking 50000 against okx bidding 50250 is
// a ~50bps spread, which with the stubbed warm-path funding delta
// clears MinConfidence (>=70).
func TestDetector_CrossVenueSpreadProducesOpportunity(t *testing.T) {
	d, consumer := newTestDetector(DefaultThresholds(), nil)

	bybitID := d.symbols.GetOrInsert("bybit", "BTCUSDT")
	okxID := d.symbols.GetOrInsert("okx", "BTCUSDT")

	d.processTick(marketdata.Tick{SymbolID: bybitID, Bid: 49990, Ask: 50000, TimestampUS: 1_000_000})
	d.processTick(marketdata.Tick{SymbolID: okxID, Bid: 50250, Ask: 50260, TimestampUS: 1_000_001})

	opp, ok := consumer.Pop()
	if !ok {
		t.Fatal("expected a cross-venue opportunity")
	}
	if opp.LongVenue != "bybit" || opp.ShortVenue != "okx" {
		t.Fatalf("expected long=bybit short=okx, got long=%s short=%s", opp.LongVenue, opp.ShortVenue)
	}
	if opp.SpreadBps < 49 || opp.SpreadBps > 51 {
		t.Fatalf("SpreadBps = %.2f, want ~50bps", opp.SpreadBps)
	}
	if opp.ConfidenceScore < 70 {
		t.Fatalf("ConfidenceScore = %d, want >= 70", opp.ConfidenceScore)
	}
	if opp.ProjectedProfitAfterSlip <= 0 {
		t.Fatalf("ProjectedProfitAfterSlip = %.2f, want > 0", opp.ProjectedProfitAfterSlip)
	}

	if _, ok := consumer.Pop(); ok {
		t.Fatal("expected only one opportunity (reverse direction is a negative spread)")
	}
}

// fixedWarmPath lets tests pin the funding delta and depth the stubbed
// implementation would otherwise hardcode.
type fixedWarmPath struct {
	funding float64
	depth   float64
}

func (f fixedWarmPath) FundingDelta(_, _, _ string) float64 { return f.funding }
func (f fixedWarmPath) Depth(_, _ string) float64           { return f.depth }

func TestDetector_RejectsBelowMinFundingDelta(t *testing.T) {
	th := DefaultThresholds()
	th.MinFundingDelta = 0.001
	d, consumer := newTestDetector(th, fixedWarmPath{funding: 0.0001, depth: 15000})

	bybitID := d.symbols.GetOrInsert("bybit", "BTCUSDT")
	okxID := d.symbols.GetOrInsert("okx", "BTCUSDT")
	d.processTick(marketdata.Tick{SymbolID: bybitID, Bid: 49990, Ask: 50000, TimestampUS: 1})
	d.processTick(marketdata.Tick{SymbolID: okxID, Bid: 50250, Ask: 50260, TimestampUS: 2})

	if _, ok := consumer.Pop(); ok {
		t.Fatal("expected funding-delta filter to reject the pair")
	}
	if got := d.Filters().Funding; got == 0 {
		t.Fatalf("expected Funding filter counter to increment, got %d", got)
	}
}

func TestDetector_RejectsBelowMinConfidence(t *testing.T) {
	th := DefaultThresholds()
	th.MinConfidence = 95
	d, consumer := newTestDetector(th, fixedWarmPath{funding: 0.0002, depth: 15000})

	bybitID := d.symbols.GetOrInsert("bybit", "BTCUSDT")
	okxID := d.symbols.GetOrInsert("okx", "BTCUSDT")
	d.processTick(marketdata.Tick{SymbolID: bybitID, Bid: 49990, Ask: 50000, TimestampUS: 1})
	d.processTick(marketdata.Tick{SymbolID: okxID, Bid: 50250, Ask: 50260, TimestampUS: 2})

	if _, ok := consumer.Pop(); ok {
		t.Fatal("expected confidence filter to reject the pair")
	}
	if got := d.Filters().Confidence; got == 0 {
		t.Fatalf("expected Confidence filter counter to increment, got %d", got)
	}
}
