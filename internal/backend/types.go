// Package backend defines the execution-backend capability (§4.G/H): the
// boundary between the executor/hedge state machine and a venue, real or
// simulated. Prices are float64 throughout (a deliberate deviation from
// fixed-point cents; see DESIGN.md) to match the spec's f64 field types.
package backend

import (
	"fmt"
	"strings"
)

// Side is the order side.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the order's execution semantics.
type OrderType int

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

// PlaceOrderRequest is a single-leg order instruction sent to a venue.
type PlaceOrderRequest struct {
	Venue     string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     float64 // ignored for market orders
	Size      float64
	ClientRef string // idempotency/correlation key
}

func (r PlaceOrderRequest) String() string {
	return fmt.Sprintf("%s %s %s %g@%g", r.Venue, r.Side, r.Symbol, r.Size, r.Price)
}

// OrderAck is returned by a successful placement.
type OrderAck struct {
	OrderID   string
	Venue     string
	AcceptedAt int64 // unix nanoseconds
}

// CancelOutcome is the normalized result of a cancel attempt (§4.H).
// Venue-specific "order not found"-shaped errors collapse into
// AlreadyFilled rather than propagating as failures, since a cancel that
// loses a race with a fill is not an execution error.
type CancelOutcome int

const (
	Cancelled CancelOutcome = iota
	AlreadyFilled
	CancelFailed
)

func (o CancelOutcome) String() string {
	switch o {
	case Cancelled:
		return "CANCELLED"
	case AlreadyFilled:
		return "ALREADY_FILLED"
	case CancelFailed:
		return "CANCEL_FAILED"
	default:
		return "UNKNOWN"
	}
}

// CancelResult carries the outcome plus, for AlreadyFilled, the quantity
// that was filled before the cancel could land.
type CancelResult struct {
	Outcome     CancelOutcome
	FilledQty   float64
	FailReason  string
}

// OrderState is the venue-reported lifecycle state of a single order.
type OrderState int

const (
	StateOpen OrderState = iota
	StatePartiallyFilled
	StateFilled
	StateCancelled
	StateRejected
)

func (s OrderState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StatePartiallyFilled:
		return "PARTIALLY_FILLED"
	case StateFilled:
		return "FILLED"
	case StateCancelled:
		return "CANCELLED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// OrderStatusResult is a point-in-time status poll response.
type OrderStatusResult struct {
	OrderID   string
	State     OrderState
	FilledQty float64
	AvgPrice  float64
}

// knownUnknownOrderPhrases are venue-specific "this order no longer
// exists" error substrings (case-insensitive) normalized to
// AlreadyFilled by hedge cancel handling, per §4.H.
var knownUnknownOrderPhrases = []string{
	"order not found",
	"unknown order",
	"code 110001",
	"code 110017",
	"order does not exist",
	"order not exists",
}

// IsUnknownOrderError reports whether msg matches one of the known
// venue-specific "order vanished" phrasings.
func IsUnknownOrderError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range knownUnknownOrderPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
