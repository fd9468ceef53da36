// Package ring implements the bounded, cache-line-padded lock-free rings
// used by the market pipeline, the opportunity queue, and the execution
// pipeline. All three share one discipline: a single producer that never
// blocks, and one or more consumers that never block — on a full ring the
// producer silently evicts the oldest element instead of failing.
//
// This is the same cache-aligned-slot, atomic-sequence-number discipline
// an LMAX-style disruptor uses, simplified from CAS-gated multi-producer
// coordination (not needed here — every ring in this system has exactly
// one producer) down to drop-oldest single-producer / competing-consumer
// semantics.
package ring

import (
	"runtime"
	"sync/atomic"
)

const maxSpins = 10000

// slot holds one ring element plus its publish sequence number. The
// sequence number is 1-based; 0 means the slot has never been written.
// Padding approximates a 64-byte cache line for small payload types
// (Tick and OrderRequest are both designed to be 64 bytes themselves);
// it is a best-effort hint, not an exact computation, since Go cannot
// size pad bytes against an arbitrary generic T at compile time.
type slot[T any] struct {
	seq uint64
	val T
	_   [24]byte
}

// Counters lays out the four counters of the ring metrics contract, each
// on its own cache line to avoid false sharing between producer and
// consumers. Ring does not embed this type: it keeps pushed, dropped and
// popped as its own cache-line-separated fields and reports them through
// Snapshot, where the enqueued count appears as Depth.
type Counters struct {
	_        [64]byte
	Pushed   uint64 // successful Push calls, including ones that evicted
	_        [64]byte
	Enqueued uint64 // items currently resident (Pushed - Dropped - Popped)... derived, kept for parity with spec wording
	_        [64]byte
	Dropped  uint64 // items evicted by drop-oldest backpressure
	_        [64]byte
	Popped   uint64 // successful Pop calls
	_        [64]byte
}

// Ring is a bounded circular buffer. Capacity must be a power of two.
type Ring[T any] struct {
	capacity uint64
	mask     uint64
	slots    []slot[T]

	_        [64]byte
	writeSeq uint64 // next sequence to assign; producer-owned
	_        [64]byte
	readSeq  uint64 // next sequence to claim; CAS'd by consumers (and advanced by the producer on eviction)
	_        [64]byte

	pushed  uint64
	_       [64]byte
	dropped uint64
	_       [64]byte
	popped  uint64
}

// New creates a ring of the given capacity, which must be a power of two.
func New[T any](capacity uint64) *Ring[T] {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be a power of two")
	}
	return &Ring[T]{
		capacity: capacity,
		mask:     capacity - 1,
		slots:    make([]slot[T], capacity),
		writeSeq: 0,
		readSeq:  0,
	}
}

// Capacity returns the fixed ring capacity.
func (r *Ring[T]) Capacity() uint64 { return r.capacity }

// Push always succeeds. If the ring is full it evicts the single oldest
// element first (drop-oldest backpressure), then writes the new one.
func (r *Ring[T]) Push(v T) {
	seq := r.writeSeq // single producer: no CAS needed to claim
	r.writeSeq++

	if seq-atomic.LoadUint64(&r.readSeq) >= r.capacity {
		// Ring full: evict the oldest unread element ourselves. CAS
		// rather than blind-increment readSeq — a competing consumer's
		// Pop may have already claimed and advanced past this slot
		// between our load above and here, and an unconditional add
		// would double-advance readSeq and evict a second, still-live
		// element on top of the one the consumer already took.
		for {
			cur := atomic.LoadUint64(&r.readSeq)
			if seq-cur < r.capacity {
				break // a consumer raced us to it: no longer full
			}
			if atomic.CompareAndSwapUint64(&r.readSeq, cur, cur+1) {
				atomic.AddUint64(&r.dropped, 1)
				break
			}
		}
	}

	idx := seq & r.mask
	s := &r.slots[idx]
	s.val = v
	atomic.StoreUint64(&s.seq, seq+1) // release: publish after the value write

	atomic.AddUint64(&r.pushed, 1)
}

// TryPush is the non-evicting variant: it fails and returns the rejected
// value plus false when the ring is full, instead of evicting.
func (r *Ring[T]) TryPush(v T) (T, bool) {
	seq := r.writeSeq
	if seq-atomic.LoadUint64(&r.readSeq) >= r.capacity {
		return v, false
	}
	r.writeSeq++
	idx := seq & r.mask
	s := &r.slots[idx]
	s.val = v
	atomic.StoreUint64(&s.seq, seq+1)
	atomic.AddUint64(&r.pushed, 1)
	return v, true
}

// Pop claims and returns the oldest available element, or zero/false if
// the ring is empty. Safe for any number of competing consumers: each
// claimed sequence number is handed to exactly one caller.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	for {
		seq := atomic.LoadUint64(&r.readSeq)
		if seq >= atomic.LoadUint64(&r.writeSeq) {
			return zero, false
		}
		if !atomic.CompareAndSwapUint64(&r.readSeq, seq, seq+1) {
			runtime.Gosched()
			continue
		}

		idx := seq & r.mask
		s := &r.slots[idx]
		spins := 0
		for atomic.LoadUint64(&s.seq) != seq+1 {
			spins++
			if spins > maxSpins {
				runtime.Gosched()
				spins = 0
			}
		}
		v := s.val
		atomic.AddUint64(&r.popped, 1)
		return v, true
	}
}

// PopBatch pops up to n elements, returning as many as were available.
func (r *Ring[T]) PopBatch(n int) []T {
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, ok := r.Pop()
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

// Depth is the current number of resident (pushed, not yet popped) items.
func (r *Ring[T]) Depth() uint64 {
	w := atomic.LoadUint64(&r.writeSeq)
	rd := atomic.LoadUint64(&r.readSeq)
	if w < rd {
		return 0
	}
	return w - rd
}

// Snapshot is a point-in-time copy of the ring's atomic counters plus
// derived metrics (push/drop/pop counts, depth, capacity, drop-rate,
// utilization, backpressure flag); the enqueued count is Depth.
type Snapshot struct {
	Pushed      uint64
	Dropped     uint64
	Popped      uint64
	Depth       uint64
	Capacity    uint64
	DropRate    float64
	Utilization float64
	Backpressure bool
}

func (r *Ring[T]) Snapshot() Snapshot {
	pushed := atomic.LoadUint64(&r.pushed)
	dropped := atomic.LoadUint64(&r.dropped)
	popped := atomic.LoadUint64(&r.popped)
	depth := r.Depth()

	var dropRate float64
	if pushed > 0 {
		dropRate = float64(dropped) / float64(pushed)
	}
	utilization := float64(depth) / float64(r.capacity)

	return Snapshot{
		Pushed:       pushed,
		Dropped:      dropped,
		Popped:       popped,
		Depth:        depth,
		Capacity:     r.capacity,
		DropRate:     dropRate,
		Utilization:  utilization,
		Backpressure: utilization > 0.8 || dropRate > 0.01,
	}
}
