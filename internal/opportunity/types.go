// Package opportunity implements the opportunity queue (§4.D) and the
// opportunity detector (§4.E), the hardest single component in the
// system: it consumes the market pipeline, maintains the market data
// store, scores cross-venue spreads, and publishes to the opportunity
// queue.
package opportunity

// HardConstraints gates a candidate trade independent of its score.
type HardConstraints struct {
	DepthSufficient     bool
	LatencyOK           bool
	FundingSubstantial  bool
}

// ConfluenceMetrics carries the opportunity's enrichment fields. The
// detector fills FundingDelta, FundingDeltaProjected and HardConstraints
// (funding and depth come from the WarmPathLookup collaborator in
// warm.go); OBIRatio through LiquidationClusterDist are left at zero.
type ConfluenceMetrics struct {
	FundingDelta           float64
	FundingDeltaProjected  float64
	OBIRatio               float64
	OICurrent              float64
	OI24hAverage           float64
	VWAPDeviation          float64
	ATR                    float64
	ATRTrend               bool
	LiquidationClusterDist float64
	HardConstraints        HardConstraints
}

// Opportunity is the owned record published to the opportunity queue.
type Opportunity struct {
	Symbol                     string
	LongVenue                  string
	ShortVenue                 string
	LongPrice                  float64 // ask on the long venue
	ShortPrice                 float64 // bid on the short venue
	SpreadBps                  float64
	FundingDelta8h             float64
	ConfidenceScore            int
	ProjectedProfitUSD         float64
	ProjectedProfitAfterSlip   float64
	Metrics                    ConfluenceMetrics
	DepthLongUSD               float64
	DepthShortUSD              float64
	TimestampUnixSeconds       int64
}
