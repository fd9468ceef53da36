// Package monitoring exposes the two read-only endpoints spec §6 calls
// for: GET /health (JSON status) and GET /metrics (Prometheus text
// exposition, following the other_examples execution-service pattern
// of prometheus.MustRegister'd vectors served by promhttp.Handler()).
// Any other path returns 404 with the list of valid endpoints.
package monitoring

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tradesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_trades_opened_total",
		Help: "Total number of trades opened by the atomic entry executor",
	})
	tradesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_trades_rejected_total",
		Help: "Total number of opportunity executions rejected, by reason",
	}, []string{"reason"})
	hedgeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_hedge_outcomes_total",
		Help: "Hedge state machine terminal outcomes",
	}, []string{"state"})
	marketQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_market_queue_depth",
		Help: "Current depth of the market data ring",
	})
	opportunityQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_opportunity_queue_depth",
		Help: "Current depth of the opportunity queue",
	})
	filterCounters = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arb_detector_filter_total",
		Help: "Monotone detector filter counters, by stage",
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(tradesOpened, tradesRejected, hedgeOutcomes,
		marketQueueDepth, opportunityQueueDepth, filterCounters)
}

// RecordTradeOpened increments the opened-trade counter.
func RecordTradeOpened() { tradesOpened.Inc() }

// RecordTradeRejected increments the rejected-trade counter for reason.
func RecordTradeRejected(reason string) { tradesRejected.WithLabelValues(reason).Inc() }

// RecordHedgeOutcome increments the terminal hedge-state counter.
func RecordHedgeOutcome(state string) { hedgeOutcomes.WithLabelValues(state).Inc() }

// SetMarketQueueDepth reports the market ring's current depth.
func SetMarketQueueDepth(n int) { marketQueueDepth.Set(float64(n)) }

// SetOpportunityQueueDepth reports the opportunity queue's current depth.
func SetOpportunityQueueDepth(n int) { opportunityQueueDepth.Set(float64(n)) }

// SetFilterCount reports a detector filter counter's current value.
func SetFilterCount(stage string, n uint64) { filterCounters.WithLabelValues(stage).Set(float64(n)) }

// QueueUtilization reports depth as a percent of capacity for /health.
type QueueUtilization struct {
	MarketQueuePercent      float64
	OpportunityQueuePercent float64
}

// UtilizationSource supplies the live queue utilization figures used by
// /health; implemented by whatever owns the rings (wired at cmd/ level).
type UtilizationSource interface {
	Utilization() QueueUtilization
}

type healthResponse struct {
	Status                    string  `json:"status"`
	UptimeSeconds             float64 `json:"uptime_seconds"`
	MarketQueueUtilizationPct float64 `json:"market_queue_utilization_percent"`
	OrderQueueUtilizationPct  float64 `json:"order_queue_utilization_percent"`
}

// Server serves /health and /metrics, 404ing every other path.
type Server struct {
	addr      string
	startedAt time.Time
	source    UtilizationSource
	logger    *slog.Logger

	mux *http.ServeMux
	srv *http.Server
}

// New creates a monitoring server bound to addr (e.g. ":9090").
func New(addr string, source UtilizationSource, logger *slog.Logger) *Server {
	s := &Server{
		addr:      addr,
		startedAt: time.Now(),
		source:    source,
		logger:    logger.With("component", "monitoring_server"),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/", s.handleNotFound)
	s.srv = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

// ListenAndServe blocks until the server stops or errors.
func (s *Server) ListenAndServe() error {
	s.logger.Info("monitoring server starting", "addr", s.addr)
	return s.srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	util := s.source.Utilization()
	resp := healthResponse{
		Status:                    "ok",
		UptimeSeconds:             time.Since(s.startedAt).Seconds(),
		MarketQueueUtilizationPct: util.MarketQueuePercent,
		OrderQueueUtilizationPct:  util.OpportunityQueuePercent,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]any{
		"error":           "not found",
		"valid_endpoints": []string{"/health", "/metrics"},
	})
}
