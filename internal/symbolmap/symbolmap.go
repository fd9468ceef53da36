// Package symbolmap interns (venue, symbol) string pairs to dense u32
// ids for use as array indices in the market data store and as
// parameters on Tick/OrderRequest records.
package symbolmap

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const shardCount = 256

// Unknown is the reserved id meaning "no such symbol."
const Unknown uint32 = 0

type pair struct {
	Venue, Symbol string
}

type shard struct {
	mu sync.RWMutex
	m  map[pair]uint32
}

// Map is the thread-safe bidirectional (venue, symbol) <-> id table.
// Forward lookups go through a sharded mutex map (writers converge via
// a lock held only for the duration of the insert); reverse lookups use
// a sync.Map since the id keyspace is append-only and read-heavy.
type Map struct {
	shards  [shardCount]*shard
	reverse sync.Map // uint32 -> pair
	nextID  uint32
}

// New creates a Map with the well-known venues x top-symbols
// cross-product pre-interned, so those ids are stable across restarts.
func New() *Map {
	m := &Map{nextID: 1}
	for i := range m.shards {
		m.shards[i] = &shard{m: make(map[pair]uint32, 4)}
	}
	m.preallocate()
	return m
}

var preallocVenues = []string{"bybit", "okx", "kucoin", "bitget", "hyperliquid", "paradex"}

var preallocSymbols = []string{
	"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT",
	"ADAUSDT", "DOGEUSDT", "MATICUSDT", "DOTUSDT", "AVAXUSDT",
}

func (m *Map) preallocate() {
	for _, v := range preallocVenues {
		for _, s := range preallocSymbols {
			m.GetOrInsert(v, s)
		}
	}
}

func shardIndex(p pair) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(p.Venue))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(p.Symbol))
	return h.Sum32() % shardCount
}

// GetOrInsert returns the existing id for (venue, symbol) or atomically
// allocates and installs a new one. Concurrent callers racing to insert
// the same key converge on the same id.
func (m *Map) GetOrInsert(venue, symbol string) uint32 {
	key := pair{venue, symbol}
	sh := m.shards[shardIndex(key)]

	sh.mu.RLock()
	if id, ok := sh.m[key]; ok {
		sh.mu.RUnlock()
		return id
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if id, ok := sh.m[key]; ok {
		return id
	}
	id := atomic.AddUint32(&m.nextID, 1) - 1
	sh.m[key] = id
	m.reverse.Store(id, key)
	return id
}

// Get returns (venue, symbol) for an id, or false if unknown.
func (m *Map) Get(id uint32) (venue, symbol string, ok bool) {
	v, found := m.reverse.Load(id)
	if !found {
		return "", "", false
	}
	p := v.(pair)
	return p.Venue, p.Symbol, true
}

// Len returns the number of interned (venue, symbol) pairs.
func (m *Map) Len() int {
	n := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

// IsEmpty reports whether no symbols have been interned.
func (m *Map) IsEmpty() bool { return m.Len() == 0 }
