// trader is the live/demo arbitrage process (spec §6 "CLI surface"):
// single-purpose, no sub-commands, reads venue credentials and tuning
// from the environment, and exits 0 on graceful shutdown, 1 on
// initialization error, 2 on shutdown timeout.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pieterjandubois/fundingspreadarb/internal/backend"
	"github.com/pieterjandubois/fundingspreadarb/internal/bridge"
	"github.com/pieterjandubois/fundingspreadarb/internal/config"
	"github.com/pieterjandubois/fundingspreadarb/internal/executor"
	"github.com/pieterjandubois/fundingspreadarb/internal/marketdata"
	"github.com/pieterjandubois/fundingspreadarb/internal/monitoring"
	"github.com/pieterjandubois/fundingspreadarb/internal/opportunity"
	"github.com/pieterjandubois/fundingspreadarb/internal/persistence"
	"github.com/pieterjandubois/fundingspreadarb/internal/pipeline"
	"github.com/pieterjandubois/fundingspreadarb/internal/portfolio"
	"github.com/pieterjandubois/fundingspreadarb/internal/ring"
	"github.com/pieterjandubois/fundingspreadarb/internal/symbolmap"
)

const (
	exitInitError     = 1
	exitShutdownError = 2
)

var (
	configPath  string
	testnet     bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "runs the cross-exchange funding-spread arbitrage engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func main() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file")
	rootCmd.Flags().BoolVar(&testnet, "testnet", false, "route venues at their testnet base URLs")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "monitoring server bind address")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInitError)
	}
}

func run(ctx context.Context) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("component", "trader")

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(exitInitError)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(exitInitError)
	}
	if testnet {
		for i := range cfg.Venues {
			cfg.Venues[i].BaseURL += "-testnet"
		}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: strings.TrimPrefix(cfg.Store.RedisURL, "redis://")})
	writer := persistence.New(redisClient, logger)
	writer.Start()

	be, err := buildBackend(cfg, logger)
	if err != nil {
		logger.Error("build backend", "err", err)
		os.Exit(exitInitError)
	}

	ids := symbolmap.New()
	market := pipeline.NewMarket()
	oppQueue := opportunity.NewQueue()

	th := opportunity.DefaultThresholds()
	th.MinSpreadBps = cfg.Tuning.MinSpreadBps
	th.MinConfidence = cfg.Tuning.MinConfidence

	detector := opportunity.NewDetector(market.Consumer(), ids, oppQueue.Producer(), nil, th, logger)

	startingCapital := cfg.Tuning.EstimatedPositionSize * float64(cfg.Tuning.MaxConcurrentTrades)
	pf := portfolio.New(startingCapital, 0, logger)

	execCfg := executor.DefaultConfig()
	execCfg.StartingCapitalUSD = startingCapital
	exec := executor.New(detector.Store(), ids, pf, be, execCfg, logger)

	// Wire the §4.F execution pipeline ring in as an audit-trail sink
	// for every leg placeAtomic actually sends to a backend.
	execPipeline := pipeline.NewExecution()
	exec.SetExecutionPipeline(execPipeline.Producer())

	// §4.H/§4.I: the hedge state machine and price chaser are driven by
	// the live fill-watcher (watchTrade) below, so a one-sided fill on a
	// placed trade is acted on rather than left naked.
	hedgeMachine := executor.NewHedgeMachine(be, nil, logger)

	// All venue bridges fan their ticks into a single channel; one
	// forwarder goroutine is the market ring's sole producer (§4.B is
	// explicitly single-producer/single-consumer).
	fanIn := make(chan tickWithVenue, 4096)
	bridges := make([]*bridge.WSBridge, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		venue := v.Name
		sink := &chanSink{venue: venue, ch: fanIn}
		parser := bridge.NewJSONTickerParser(nil)
		b := bridge.NewWSBridge(venue, v.BaseURL, cfg.Tuning.SymbolsToTrade, parser, ids, sink, logger)
		bridges = append(bridges, b)
	}

	monServer := monitoring.New(metricsAddr, &utilizationSource{market: market, opp: oppQueue}, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go detector.Run()
	go drainExecutionAudit(runCtx, execPipeline.Consumer(), writer)
	go forwardTicks(runCtx, fanIn, market.Producer(), writer)
	for _, b := range bridges {
		go b.Run(runCtx)
	}
	go runExecutor(runCtx, oppQueue, exec, hedgeMachine, detector.Store(), ids, be, logger)
	go func() {
		if err := monServer.ListenAndServe(); err != nil {
			logger.Warn("monitoring server stopped", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()
	detector.Shutdown()

	shutdownDone := make(chan struct{})
	go func() {
		writer.Shutdown("signal")
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(30 * time.Second):
		logger.Error("shutdown exceeded 30s budget")
		os.Exit(exitShutdownError)
		return nil
	}
}

func buildBackend(cfg *config.Config, logger *slog.Logger) (backend.ExecutionBackend, error) {
	allDemo := true
	venueConfigs := make([]backend.VenueConfig, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		if !v.DemoMode {
			allDemo = false
		}
		venueConfigs = append(venueConfigs, backend.VenueConfig{
			Name: v.Name, BaseURL: v.BaseURL, APIKey: v.APIKey, APISecret: v.APISecret,
		})
	}
	if allDemo {
		return backend.NewSimBackend(cfg.Tuning.EstimatedPositionSize * 10), nil
	}
	return backend.NewRESTBackend(venueConfigs, cfg.Tuning.DryRun, logger), nil
}

type tickWithVenue struct {
	venue string
	tick  marketdata.Tick
}

// chanSink implements bridge.Sink by forwarding to a shared fan-in
// channel; it never touches the market ring directly.
type chanSink struct {
	venue string
	ch    chan<- tickWithVenue
}

func (s *chanSink) Push(t marketdata.Tick) {
	select {
	case s.ch <- tickWithVenue{venue: s.venue, tick: t}:
	default:
	}
}

func forwardTicks(ctx context.Context, in <-chan tickWithVenue, out *ring.Producer[marketdata.Tick], writer *persistence.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case tv := <-in:
			out.Push(tv.tick)
			writer.QueueTick(tv.venue, "price", fmt.Sprintf("%d", tv.tick.SymbolID),
				fmt.Sprintf(`{"bid":%v,"ask":%v,"ts_us":%d}`, tv.tick.Bid, tv.tick.Ask, tv.tick.TimestampUS))
		}
	}
}

// drainExecutionAudit is the sole consumer of the §4.F execution
// pipeline ring, persisting each placed order leg as an audit record
// so the ring is genuinely exercised rather than write-only.
func drainExecutionAudit(ctx context.Context, consumer *ring.Consumer[marketdata.OrderRequest], writer *persistence.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, ok := consumer.Pop()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		writer.QueueTick("execution", "order", fmt.Sprintf("%d", req.SymbolID),
			fmt.Sprintf(`{"order_id":%d,"side":%q,"type":%q,"price":%v,"size":%v,"ts_us":%d}`,
				req.OrderID, req.Side, req.OrderType, req.Price, req.Size, req.TimestampUS))
	}
}

func runExecutor(ctx context.Context, oppQueue *opportunity.Queue, exec *executor.Executor, hedge *executor.HedgeMachine, store *marketdata.Store, ids *symbolmap.Map, be backend.ExecutionBackend, logger *slog.Logger) {
	consumer := oppQueue.Consumer()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		opp, ok := consumer.Pop()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}

		trade, err := exec.ExecuteOpportunity(ctx, opp)
		if err != nil {
			var reject *executor.RejectError
			if errors.As(err, &reject) {
				monitoring.RecordTradeRejected(string(reject.Reason))
				logger.Debug("opportunity rejected", "symbol", opp.Symbol, "reason", reject.Reason)
			} else {
				logger.Warn("execute opportunity failed", "symbol", opp.Symbol, "err", err)
			}
			continue
		}

		monitoring.RecordTradeOpened()
		logger.Info("trade opened", "symbol", trade.Symbol, "long", trade.LongVenue, "short", trade.ShortVenue, "size_usd", trade.PositionSizeUSD)

		go watchTrade(ctx, trade, opp.ConfidenceScore, hedge, store, ids, be, logger)
	}
}

// storeTopOfBook backs executor.TopOfBook with the shared market data
// store for a single, fixed venue — one PriceChaser leg always chases
// on one venue, so the venue is bound at construction rather than
// threaded through every Price call.
type storeTopOfBook struct {
	store *marketdata.Store
	ids   *symbolmap.Map
	venue string
}

func (t *storeTopOfBook) Price(symbol string, side backend.Side) (float64, bool) {
	id := t.ids.GetOrInsert(t.venue, symbol)
	if side == backend.SideBuy {
		return t.store.GetAsk(id)
	}
	return t.store.GetBid(id)
}

// watchTrade chases both resting legs of a placed trade concurrently
// (§4.I) until one fills or both chases end without a fill; a clean
// single-leg fill hands off to the hedge state machine (§4.H) to cancel
// the other leg and hedge or emergency-close.
func watchTrade(ctx context.Context, trade *executor.TradeRecord, confidence int, hedge *executor.HedgeMachine, store *marketdata.Store, ids *symbolmap.Map, be backend.ExecutionBackend, logger *slog.Logger) {
	policy := executor.PolicyForConfidence(confidence)

	longCtx, cancelLong := context.WithCancel(ctx)
	shortCtx, cancelShort := context.WithCancel(ctx)
	defer cancelLong()
	defer cancelShort()

	longChaser := executor.NewPriceChaser(be, &storeTopOfBook{store: store, ids: ids, venue: trade.LongVenue}, logger)
	shortChaser := executor.NewPriceChaser(be, &storeTopOfBook{store: store, ids: ids, venue: trade.ShortVenue}, logger)

	longQty := trade.PositionSizeUSD / trade.EntryLongPrice
	shortQty := trade.PositionSizeUSD / trade.EntryShortPrice

	longCh := make(chan *executor.ChaseResult, 1)
	shortCh := make(chan *executor.ChaseResult, 1)
	go func() {
		longCh <- longChaser.Chase(longCtx, trade.LongVenue, trade.Symbol, trade.LongOrder.OrderID, backend.SideBuy, trade.EntryLongPrice, longQty, policy)
	}()
	go func() {
		shortCh <- shortChaser.Chase(shortCtx, trade.ShortVenue, trade.Symbol, trade.ShortOrder.OrderID, backend.SideSell, trade.EntryShortPrice, shortQty, policy)
	}()

	var filledVenue, otherVenue, otherOrderID string
	var filledSide backend.Side
	var filledQty float64
	haveFill := false

	select {
	case longRes := <-longCh:
		cancelShort()
		shortRes := <-shortCh
		if longRes.Termination == executor.TerminationFilled && shortRes.Termination != executor.TerminationFilled {
			filledVenue, filledSide, filledQty = trade.LongVenue, backend.SideBuy, longQty
			otherVenue, otherOrderID = trade.ShortVenue, trade.ShortOrder.OrderID
			haveFill = true
		} else if longRes.Termination != executor.TerminationFilled && shortRes.Termination == executor.TerminationFilled {
			filledVenue, filledSide, filledQty = trade.ShortVenue, backend.SideSell, shortQty
			otherVenue, otherOrderID = trade.LongVenue, trade.LongOrder.OrderID
			haveFill = true
		}
	case shortRes := <-shortCh:
		cancelLong()
		longRes := <-longCh
		if shortRes.Termination == executor.TerminationFilled && longRes.Termination != executor.TerminationFilled {
			filledVenue, filledSide, filledQty = trade.ShortVenue, backend.SideSell, shortQty
			otherVenue, otherOrderID = trade.LongVenue, trade.LongOrder.OrderID
			haveFill = true
		} else if shortRes.Termination != executor.TerminationFilled && longRes.Termination == executor.TerminationFilled {
			filledVenue, filledSide, filledQty = trade.LongVenue, backend.SideBuy, longQty
			otherVenue, otherOrderID = trade.ShortVenue, trade.ShortOrder.OrderID
			haveFill = true
		}
	}

	if !haveFill {
		logger.Info("chase ended on both legs without a one-sided fill", "symbol", trade.Symbol)
		return
	}

	result, err := hedge.Execute(ctx, trade.Symbol, filledVenue, filledSide, filledQty, otherVenue, otherOrderID)
	if err != nil {
		logger.Warn("hedge execute failed", "symbol", trade.Symbol, "err", err)
		return
	}
	logger.Info("hedge resolved", "symbol", trade.Symbol, "state", result.State,
		"emergency_close", result.EmergencyClose, "duration_ms", result.TotalDurationMs)
}

type utilizationSource struct {
	market *pipeline.Market
	opp    *opportunity.Queue
}

func (u *utilizationSource) Utilization() monitoring.QueueUtilization {
	ms := u.market.Snapshot()
	ops := u.opp.Snapshot()
	return monitoring.QueueUtilization{
		MarketQueuePercent:      percent(ms.Depth, ms.Capacity),
		OpportunityQueuePercent: percent(ops.Depth, ops.Capacity),
	}
}

func percent(depth, capacity uint64) float64 {
	if capacity == 0 {
		return 0
	}
	return float64(depth) / float64(capacity) * 100
}
