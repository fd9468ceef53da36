package opportunity

// WarmPathLookup is the funding/depth collaborator the detector consults
// while scoring a pair. Spec §9 notes both are "currently stubbed" in
// the streaming detector (constants 2e-4 and 15,000 USD); this interface
// lets a real funding/depth feed be substituted later (or folded into
// the pipeline as two more ring-fed streams) without touching the
// detector's scoring logic. Implementations must tolerate at most
// 100ms staleness per spec.
type WarmPathLookup interface {
	FundingDelta(symbol, longVenue, shortVenue string) float64
	Depth(venue, symbol string) float64
}

// StubWarmPath is the documented placeholder implementation: it always
// returns the same constants the streaming pipeline used before a real
// funding/depth feed existed. Detection is therefore approximate;
// authoritative validation happens in the executor (§4.G) against fresh
// venue data.
type StubWarmPath struct{}

func (StubWarmPath) FundingDelta(_, _, _ string) float64 { return 0.0002 }
func (StubWarmPath) Depth(_, _ string) float64           { return 15000.0 }
