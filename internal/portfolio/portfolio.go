// Package portfolio implements the minimal capital/position contract
// the executor needs to open and close a position (§4.G steps 6 and
// 12, §5's locking discipline), plus a daily-loss kill switch
// supplemented from a risk manager pattern elsewhere in the corpus
// (see DESIGN.md) since nothing else in this system tracks drawdown.
//
// Full portfolio accounting (realized/unrealized P&L breakdown,
// multi-asset netting, margin modeling) is explicitly out of scope; this
// package tracks only what the executor's validation pipeline reads and
// writes under lock.
package portfolio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Status is a position's lifecycle state within the portfolio.
type Status int

const (
	StatusActive Status = iota
	StatusExiting
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusExiting:
		return "EXITING"
	case StatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Position is a single open arbitrage position: two legs on two venues.
type Position struct {
	Symbol       string
	LongVenue    string
	ShortVenue   string
	SizeUSD      float64
	EntrySpread  float64
	OpenedAt     time.Time
	Status       Status
}

// Portfolio is the executor's capital/position collaborator. Readers
// (capital/position checks) run concurrently under RLock; Open/Close
// serialize under Lock, but only around the map mutation itself — any
// accounting math happens before the critical section (§5).
type Portfolio struct {
	mu         sync.RWMutex
	capitalUSD float64
	positions  map[string]*Position // keyed by symbol; enforces one position per symbol

	tradeCount    int64 // atomic, outside the lock
	cumPnLCents   int64 // atomic, outside the lock

	logger *slog.Logger

	killMu           sync.Mutex
	dailyLossLimitUSD float64
	dailyLossUSD      float64
	dailyResetAt      time.Time
	killSwitchActive  bool
}

// New creates a portfolio with a starting capital balance and a daily
// loss limit beyond which the kill switch trips.
func New(startingCapitalUSD, dailyLossLimitUSD float64, logger *slog.Logger) *Portfolio {
	return &Portfolio{
		capitalUSD:        startingCapitalUSD,
		positions:         make(map[string]*Position),
		dailyLossLimitUSD: dailyLossLimitUSD,
		dailyResetAt:      time.Now(),
		logger:            logger.With("component", "portfolio"),
	}
}

// AvailableCapital returns free capital under a read lock (§4.G step 6).
func (p *Portfolio) AvailableCapital() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.capitalUSD
}

// HasActivePosition reports whether a symbol already has an Active or
// Exiting position, mirroring the executor's own duplicate-symbol
// reservation (§4.G step 1) so the portfolio's invariant cannot be
// violated even if called independently.
func (p *Portfolio) HasActivePosition(symbol string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return false
	}
	return pos.Status == StatusActive || pos.Status == StatusExiting
}

// Open commits a new position and deducts its size from available
// capital. Returns an error if a position for the symbol is already
// open or capital is insufficient. Both checks run under the write
// lock, so two concurrent Opens cannot both pass the capital check.
func (p *Portfolio) Open(pos Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.positions[pos.Symbol]; ok && (existing.Status == StatusActive || existing.Status == StatusExiting) {
		return fmt.Errorf("portfolio: position already open for %s", pos.Symbol)
	}
	if pos.SizeUSD > p.capitalUSD {
		return fmt.Errorf("portfolio: insufficient capital: have %.2f, need %.2f", p.capitalUSD, pos.SizeUSD)
	}

	pos.Status = StatusActive
	pos.OpenedAt = time.Now()
	p.positions[pos.Symbol] = &pos
	p.capitalUSD -= pos.SizeUSD

	atomic.AddInt64(&p.tradeCount, 1)
	return nil
}

// Close releases a position, returns its size to available capital, and
// records the realized P&L (in cents, to keep the atomic counter
// integer). pnlUSD may be negative.
func (p *Portfolio) Close(symbol string, pnlUSD float64) error {
	p.mu.Lock()
	pos, ok := p.positions[symbol]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("portfolio: no position for %s", symbol)
	}
	pos.Status = StatusClosed
	p.capitalUSD += pos.SizeUSD + pnlUSD
	p.mu.Unlock()

	atomic.AddInt64(&p.cumPnLCents, int64(pnlUSD*100))
	p.recordPnL(pnlUSD)
	return nil
}

// MarkExiting transitions a position to Exiting; an Exiting position
// still counts as open for HasActivePosition, Open and Snapshot.
func (p *Portfolio) MarkExiting(symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return fmt.Errorf("portfolio: no position for %s", symbol)
	}
	pos.Status = StatusExiting
	return nil
}

// TradeCount and CumulativePnLUSD are lock-free reads of the atomic
// counters (§5: "atomic counters ... update outside the lock").
func (p *Portfolio) TradeCount() int64 { return atomic.LoadInt64(&p.tradeCount) }
func (p *Portfolio) CumulativePnLUSD() float64 {
	return float64(atomic.LoadInt64(&p.cumPnLCents)) / 100.0
}

// Snapshot is a cloned, lock-free-to-read view of portfolio state.
type Snapshot struct {
	CapitalUSD     float64
	OpenPositions  int
	TradeCount     int64
	CumulativePnL  float64
	KillSwitchActive bool
}

// Snapshot clones current state inside a minimal critical section.
func (p *Portfolio) Snapshot() Snapshot {
	p.mu.RLock()
	open := 0
	for _, pos := range p.positions {
		if pos.Status == StatusActive || pos.Status == StatusExiting {
			open++
		}
	}
	capital := p.capitalUSD
	p.mu.RUnlock()

	return Snapshot{
		CapitalUSD:       capital,
		OpenPositions:    open,
		TradeCount:       p.TradeCount(),
		CumulativePnL:    p.CumulativePnLUSD(),
		KillSwitchActive: p.IsKillSwitchActive(),
	}
}

// recordPnL accumulates realized loss toward the daily limit and trips
// the kill switch on breach. The loss window resets, and the kill switch
// clears, once 24 hours have passed since the previous reset (or since
// New), checked lazily (no background ticker), mirroring the lazy-expiry
// pattern used for the analogous kill switch elsewhere in the corpus.
func (p *Portfolio) recordPnL(pnlUSD float64) {
	p.killMu.Lock()
	defer p.killMu.Unlock()

	now := time.Now()
	if now.Sub(p.dailyResetAt) >= 24*time.Hour {
		p.dailyLossUSD = 0
		p.dailyResetAt = now
		p.killSwitchActive = false
	}

	if pnlUSD < 0 {
		p.dailyLossUSD += -pnlUSD
	}

	if !p.killSwitchActive && p.dailyLossLimitUSD > 0 && p.dailyLossUSD >= p.dailyLossLimitUSD {
		p.killSwitchActive = true
		p.logger.Error("daily loss limit breached, kill switch engaged",
			"daily_loss_usd", p.dailyLossUSD, "limit_usd", p.dailyLossLimitUSD)
	}
}

// IsKillSwitchActive reports whether new entries should be refused.
// The executor must check this before Open.
func (p *Portfolio) IsKillSwitchActive() bool {
	p.killMu.Lock()
	defer p.killMu.Unlock()
	if time.Since(p.dailyResetAt) >= 24*time.Hour {
		p.dailyLossUSD = 0
		p.dailyResetAt = time.Now()
		p.killSwitchActive = false
	}
	return p.killSwitchActive
}
