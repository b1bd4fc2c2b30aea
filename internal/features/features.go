// Package features computes the pure microstructure functions used by
// the blotter to build a tick's feature vector, plus the stateful
// per-symbol Standardizer that turns raw features into rolling
// z-scores.
package features

import "math"

// Mid returns the arithmetic mid of the best bid/ask.
func Mid(bid, ask float64) float64 {
	return (bid + ask) / 2
}

// SpreadBp returns the quoted spread in basis points, 0 if mid <= 0.
func SpreadBp(bid, ask float64) float64 {
	mid := Mid(bid, ask)
	if mid <= 0 {
		return 0
	}
	return ((ask - bid) / mid) * 10_000
}

// OrderFlowImbalance returns the normalized size imbalance between
// aggregated bid and ask depth. Returns 0 when total displayed size
// is 0.
func OrderFlowImbalance(bids, asks [][2]float64) float64 {
	var bidSz, askSz float64
	for _, lvl := range bids {
		bidSz += lvl[1]
	}
	for _, lvl := range asks {
		askSz += lvl[1]
	}
	total := bidSz + askSz
	if total == 0 {
		return 0
	}
	return (bidSz - askSz) / total
}

// Microprice is the size-weighted mid of the best bid/ask, falling
// back to the plain mid when both top-of-book sizes are zero.
func Microprice(bidPx, bidSz, askPx, askSz float64) float64 {
	total := bidSz + askSz
	if total == 0 {
		return Mid(bidPx, askPx)
	}
	return (askPx*bidSz + bidPx*askSz) / total
}

// RollingVolatility returns the sample standard deviation of prices.
// Fewer than 2 samples yields 0.
func RollingVolatility(prices []float64) float64 {
	n := len(prices)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(n)
	var sq float64
	for _, p := range prices {
		d := p - mean
		sq += d * d
	}
	variance := sq / float64(n-1)
	return math.Sqrt(variance)
}
