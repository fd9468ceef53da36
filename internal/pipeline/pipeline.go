// Package pipeline provides the two SPSC rings named directly by the
// spec: the market pipeline (§4.B, Tick payload) and the execution
// pipeline (§4.F, OrderRequest payload). Both share the same ring
// discipline from internal/ring; this package just fixes their payload
// types and default capacities.
package pipeline

import (
	"github.com/pieterjandubois/fundingspreadarb/internal/marketdata"
	"github.com/pieterjandubois/fundingspreadarb/internal/ring"
)

// DefaultMarketCapacity is ~640KB at 64 bytes/tick.
const DefaultMarketCapacity = 10000 // not a power of two per spec prose; rounded up internally

// marketCapacityPow2 is the smallest power of two >= DefaultMarketCapacity,
// since the ring requires a power-of-two capacity for its index mask.
const marketCapacityPow2 = 16384

// DefaultExecutionCapacity is ~64KB at 64 bytes/request, L1-resident.
const DefaultExecutionCapacity = 1024 // nearest power of two to spec's 1,000

// Market is the lock-free bounded ring of Tick updates (§4.B).
type Market struct {
	r *ring.Ring[marketdata.Tick]
}

func NewMarket() *Market {
	return &Market{r: ring.New[marketdata.Tick](marketCapacityPow2)}
}

func (m *Market) Producer() *ring.Producer[marketdata.Tick] { return ring.NewProducer(m.r) }
func (m *Market) Consumer() *ring.Consumer[marketdata.Tick] { return ring.NewConsumer(m.r) }
func (m *Market) Snapshot() ring.Snapshot                   { return m.r.Snapshot() }

// Execution is the lock-free bounded ring of OrderRequests (§4.F).
type Execution struct {
	r *ring.Ring[marketdata.OrderRequest]
}

func NewExecution() *Execution {
	return &Execution{r: ring.New[marketdata.OrderRequest](DefaultExecutionCapacity)}
}

func (e *Execution) Producer() *ring.Producer[marketdata.OrderRequest] { return ring.NewProducer(e.r) }
func (e *Execution) Consumer() *ring.Consumer[marketdata.OrderRequest] { return ring.NewConsumer(e.r) }
func (e *Execution) Snapshot() ring.Snapshot                           { return e.r.Snapshot() }
