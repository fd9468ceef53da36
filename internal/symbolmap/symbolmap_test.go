package symbolmap

import (
	"sync"
	"testing"
)

func TestGetOrInsert_NewKeyAllocatesSequentialID(t *testing.T) {
	m := New()
	before := m.Len()
	id := m.GetOrInsert("binance", "NEWUSDT")
	if id == Unknown {
		t.Fatal("expected non-zero id")
	}
	if id != uint32(before)+1 {
		t.Fatalf("expected next sequential id %d, got %d", before+1, id)
	}
	if m.Len() != before+1 {
		t.Fatalf("expected len to grow by 1, got %d -> %d", before, m.Len())
	}
	venue, symbol, ok := m.Get(id)
	if !ok || venue != "binance" || symbol != "NEWUSDT" {
		t.Fatalf("reverse lookup mismatch: %s %s %v", venue, symbol, ok)
	}
}

func TestGetOrInsert_RepeatedCallsReturnSameID(t *testing.T) {
	m := New()
	id1 := m.GetOrInsert("binance", "BTCUSDT")
	id2 := m.GetOrInsert("binance", "BTCUSDT")
	if id1 != id2 {
		t.Fatalf("expected stable id, got %d and %d", id1, id2)
	}
}

func TestGetOrInsert_ConcurrentInsertsConverge(t *testing.T) {
	m := New()
	const n = 100
	ids := make([]uint32, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ids[i] = m.GetOrInsert("hyperliquid", "RACEUSDT")
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent inserts diverged: %d vs %d", ids[0], ids[i])
		}
	}
}

func TestGet_UnknownIDReturnsFalse(t *testing.T) {
	m := New()
	if _, _, ok := m.Get(999999); ok {
		t.Fatal("expected unknown id to miss")
	}
}

func TestNew_PreallocatesSixVenuesByTenSymbols(t *testing.T) {
	m := New()
	if m.Len() != 60 {
		t.Fatalf("expected 60 preallocated symbols, got %d", m.Len())
	}
	id := m.GetOrInsert("bybit", "BTCUSDT")
	if id == Unknown {
		t.Fatal("expected preallocated pair to already have a nonzero id")
	}
}
