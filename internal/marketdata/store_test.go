package marketdata

import "testing"

func TestUpdate_ThenGettersReturnWrittenValues(t *testing.T) {
	s := New()
	s.Update(1, 50000, 50010, 1_000_000)

	bid, ok := s.GetBid(1)
	if !ok || bid != 50000 {
		t.Fatalf("bid mismatch: %v %v", bid, ok)
	}
	ask, ok := s.GetAsk(1)
	if !ok || ask != 50010 {
		t.Fatalf("ask mismatch: %v %v", ask, ok)
	}
	spread := s.GetSpreadBps(1)
	want := (50010.0 - 50000.0) / 50000.0 * 10000
	if spread != want {
		t.Fatalf("spread mismatch: got %v want %v", spread, want)
	}
}

func TestUpdate_OutOfRangeIDIgnored(t *testing.T) {
	s := New()
	s.Update(MaxSymbols, 1, 2, 0)
	if s.ActiveCount() != 0 {
		t.Fatalf("expected no-op on out-of-range id, activeCount=%d", s.ActiveCount())
	}
}

func TestGetBid_InactiveSlotMisses(t *testing.T) {
	s := New()
	if _, ok := s.GetBid(5); ok {
		t.Fatal("expected miss on never-updated slot")
	}
}

func TestIsStale(t *testing.T) {
	s := New()
	s.Update(2, 1, 2, 1000)
	if s.IsStale(2, 1050, 100) {
		t.Fatal("expected fresh within threshold")
	}
	if !s.IsStale(2, 2000, 100) {
		t.Fatal("expected stale beyond threshold")
	}
}

func TestIterSpreads_VisitsOnlyActiveSlots(t *testing.T) {
	s := New()
	s.Update(0, 100, 101, 1)
	s.Update(10, 200, 220, 1)

	seen := map[uint32]bool{}
	s.IterSpreads(func(e SpreadEntry) { seen[e.SymbolID] = true })

	if len(seen) != 2 || !seen[0] || !seen[10] {
		t.Fatalf("unexpected visited set: %v", seen)
	}
}
