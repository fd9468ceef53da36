package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pieterjandubois/fundingspreadarb/internal/backend"
	"github.com/pieterjandubois/fundingspreadarb/internal/marketdata"
	"github.com/pieterjandubois/fundingspreadarb/internal/opportunity"
	"github.com/pieterjandubois/fundingspreadarb/internal/pipeline"
	"github.com/pieterjandubois/fundingspreadarb/internal/portfolio"
	"github.com/pieterjandubois/fundingspreadarb/internal/symbolmap"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func goodOpportunity() opportunity.Opportunity {
	return opportunity.Opportunity{
		Symbol: "BTCUSDT", LongVenue: "bybit", ShortVenue: "okx",
		LongPrice: 60000, ShortPrice: 60300, SpreadBps: 50,
		FundingDelta8h: 0.0002, ConfidenceScore: 85,
		Metrics: opportunity.ConfluenceMetrics{
			HardConstraints: opportunity.HardConstraints{DepthSufficient: true, LatencyOK: true, FundingSubstantial: true},
		},
		DepthLongUSD: 15000, DepthShortUSD: 15000,
	}
}

// seedStore writes the long ask / short bid an opportunity needs so
// that freshPrices' live Store lookup agrees with the opportunity's
// own recorded prices.
func seedStore(store *marketdata.Store, ids *symbolmap.Map, opp opportunity.Opportunity) {
	longID := ids.GetOrInsert(opp.LongVenue, opp.Symbol)
	shortID := ids.GetOrInsert(opp.ShortVenue, opp.Symbol)
	store.Update(longID, opp.LongPrice-1, opp.LongPrice, uint64(time.Now().UnixMicro()))
	store.Update(shortID, opp.ShortPrice, opp.ShortPrice+1, uint64(time.Now().UnixMicro()))
}

func newTestExecutor() *Executor {
	store := marketdata.New()
	ids := symbolmap.New()
	seedStore(store, ids, goodOpportunity())
	pf := portfolio.New(50000, 0, testLogger())
	be := backend.NewSimBackend(100000)
	return New(store, ids, pf, be, DefaultConfig(), testLogger())
}

func TestExecuteOpportunity_HappyPathPlacesTrade(t *testing.T) {
	e := newTestExecutor()
	trade, err := e.ExecuteOpportunity(context.Background(), goodOpportunity())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if trade.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected symbol %s", trade.Symbol)
	}
	if trade.PositionSizeUSD <= 0 {
		t.Fatalf("expected positive position size")
	}
}

func TestExecuteOpportunity_RejectsDuplicateSymbolWhileActive(t *testing.T) {
	e := newTestExecutor()
	if _, err := e.ExecuteOpportunity(context.Background(), goodOpportunity()); err != nil {
		t.Fatalf("first entry: %v", err)
	}
	_, err := e.ExecuteOpportunity(context.Background(), goodOpportunity())
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != RejectDuplicateSymbol {
		t.Fatalf("expected duplicate symbol rejection, got %v", err)
	}
}

func TestExecuteOpportunity_RejectsInsufficientDepth(t *testing.T) {
	e := newTestExecutor()
	opp := goodOpportunity()
	opp.Metrics.HardConstraints.DepthSufficient = false
	_, err := e.ExecuteOpportunity(context.Background(), opp)
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != RejectInsufficientDepth {
		t.Fatalf("expected insufficient depth rejection, got %v", err)
	}
}

func TestExecuteOpportunity_RejectsNegativeSpread(t *testing.T) {
	e := newTestExecutor()
	opp := goodOpportunity()
	// freshPrices reads the live store, not these cached fields (see
	// TestFreshPrices_ReadsLiveStoreNotCachedOpportunityFields); crossing
	// the store's prices is what actually drives a negative spread here.
	longID := e.ids.GetOrInsert(opp.LongVenue, opp.Symbol)
	shortID := e.ids.GetOrInsert(opp.ShortVenue, opp.Symbol)
	e.store.Update(longID, 60199, 60200, uint64(time.Now().UnixMicro()))
	e.store.Update(shortID, 60100, 60101, uint64(time.Now().UnixMicro()))

	_, err := e.ExecuteOpportunity(context.Background(), opp)
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != RejectNegativeSpread {
		t.Fatalf("expected negative spread rejection, got %v", err)
	}
}

func TestExecuteOpportunity_RejectsInsufficientFundingBeforeConfidenceCheck(t *testing.T) {
	e := newTestExecutor()
	opp := goodOpportunity()
	opp.Metrics.HardConstraints.FundingSubstantial = false
	_, err := e.ExecuteOpportunity(context.Background(), opp)
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != RejectInsufficientFunding {
		t.Fatalf("expected funding rejection (checked before confidence), got %v", err)
	}
}

func TestExecuteOpportunity_ReleasesReservationOnRejection(t *testing.T) {
	e := newTestExecutor()
	opp := goodOpportunity()
	opp.Metrics.HardConstraints.DepthSufficient = false
	if _, err := e.ExecuteOpportunity(context.Background(), opp); err == nil {
		t.Fatal("expected rejection")
	}
	e.mu.Lock()
	_, stillReserved := e.active[opp.Symbol]
	e.mu.Unlock()
	if stillReserved {
		t.Fatal("expected placeholder reservation to be released after rejection")
	}
}

func TestExecuteOpportunity_RecordsExecutionPipelineAuditOnPlacedLegs(t *testing.T) {
	e := newTestExecutor()
	execPipeline := pipeline.NewExecution()
	e.SetExecutionPipeline(execPipeline.Producer())

	if _, err := e.ExecuteOpportunity(context.Background(), goodOpportunity()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	consumer := execPipeline.Consumer()
	first, ok := consumer.Pop()
	if !ok {
		t.Fatal("expected an audit record for the long leg")
	}
	if first.Side != marketdata.SideBuy {
		t.Fatalf("long leg Side = %v, want SideBuy", first.Side)
	}

	second, ok := consumer.Pop()
	if !ok {
		t.Fatal("expected an audit record for the short leg")
	}
	if second.Side != marketdata.SideSell {
		t.Fatalf("short leg Side = %v, want SideSell", second.Side)
	}
}

func TestExecuteOpportunity_SkipsExecutionPipelineAuditWhenUnset(t *testing.T) {
	e := newTestExecutor()
	// SetExecutionPipeline was never called; this must not panic.
	if _, err := e.ExecuteOpportunity(context.Background(), goodOpportunity()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestFreshPrices_ReadsLiveStoreNotCachedOpportunityFields(t *testing.T) {
	e := newTestExecutor()
	opp := goodOpportunity()

	// Move the live store away from the opportunity's recorded prices;
	// freshPrices must reflect the store, not echo opp.LongPrice/ShortPrice.
	longID := e.ids.GetOrInsert(opp.LongVenue, opp.Symbol)
	e.store.Update(longID, 61000, 61010, uint64(time.Now().UnixMicro()))

	ask, _, err := e.freshPrices(opp)
	if err != nil {
		t.Fatalf("freshPrices: %v", err)
	}
	if ask != 61010 {
		t.Fatalf("freshPrices longAsk = %v, want the live store's 61010 (opp.LongPrice was %v)", ask, opp.LongPrice)
	}
}

// collapsingBackend places the long leg normally, then yanks the short
// venue's bid down far enough to collapse the spread before placeAtomic
// re-reads fresh prices for the collapse check, and records whether the
// long leg was subsequently cancelled.
type collapsingBackend struct {
	backend.ExecutionBackend
	store        *marketdata.Store
	ids          *symbolmap.Map
	shortVenue   string
	symbol       string
	cancelledIDs []string
}

func (b *collapsingBackend) PlaceOrder(ctx context.Context, req backend.PlaceOrderRequest) (backend.OrderAck, error) {
	ack, err := b.ExecutionBackend.PlaceOrder(ctx, req)
	if req.Side == backend.SideBuy {
		id := b.ids.GetOrInsert(b.shortVenue, b.symbol)
		ask, _ := b.store.GetAsk(id)
		b.store.Update(id, req.Price*0.95, ask, uint64(time.Now().UnixMicro()))
	}
	return ack, err
}

func (b *collapsingBackend) CancelOrder(ctx context.Context, venue, orderID string) (backend.CancelResult, error) {
	b.cancelledIDs = append(b.cancelledIDs, orderID)
	return b.ExecutionBackend.CancelOrder(ctx, venue, orderID)
}

func TestExecuteOpportunity_RejectsSpreadCollapseAndCancelsOpenLeg(t *testing.T) {
	store := marketdata.New()
	ids := symbolmap.New()
	opp := goodOpportunity()
	seedStore(store, ids, opp)

	sim := backend.NewSimBackend(100000)
	be := &collapsingBackend{ExecutionBackend: sim, store: store, ids: ids, shortVenue: opp.ShortVenue, symbol: opp.Symbol}

	pf := portfolio.New(50000, 0, testLogger())
	e := New(store, ids, pf, be, DefaultConfig(), testLogger())

	_, err := e.ExecuteOpportunity(context.Background(), opp)
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != RejectSpreadCollapse {
		t.Fatalf("expected spread collapse rejection, got %v", err)
	}
	if len(be.cancelledIDs) != 1 {
		t.Fatalf("expected the open long leg to be cancelled exactly once, got %d cancels", len(be.cancelledIDs))
	}
}
