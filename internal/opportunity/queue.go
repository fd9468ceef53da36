package opportunity

import "github.com/pieterjandubois/fundingspreadarb/internal/ring"

// DefaultQueueCapacity is the opportunity queue's default bounded size.
const DefaultQueueCapacity = 1024

// Queue is the MPSC (single producer, competing consumers) bounded ring
// of scored opportunities (§4.D).
type Queue struct {
	r *ring.Ring[Opportunity]
}

// NewQueue creates an opportunity queue with the default capacity.
func NewQueue() *Queue {
	return &Queue{r: ring.New[Opportunity](DefaultQueueCapacity)}
}

// Producer returns the single-writer handle: only the detector should
// ever call Push on it.
func (q *Queue) Producer() *ring.Producer[Opportunity] {
	return ring.NewProducer(q.r)
}

// Consumer returns a reader handle. Multiple strategy consumers may
// share the queue, each competing for distinct opportunities.
func (q *Queue) Consumer() *ring.Consumer[Opportunity] {
	return ring.NewConsumer(q.r)
}

func (q *Queue) Snapshot() ring.Snapshot { return q.r.Snapshot() }
