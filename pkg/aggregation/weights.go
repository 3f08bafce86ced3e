// Copyright 2025 Certen Protocol
//
// Weight schemes - map each party to its contribution toward the
// aggregation threshold.

package aggregation

import (
	"github.com/certen/blueprint-runtime/pkg/transport"
)

// WeightScheme defines each party's weight and the weight the contributor
// set must reach for an aggregate to be valid.
type WeightScheme interface {
	Weight(p transport.PartyIndex) uint64
	TotalWeight() uint64
	ThresholdWeight() uint64
}

// EqualWeight gives every party weight 1. The threshold is
// floor(n * percentage / 100), at least 1.
type EqualWeight struct {
	n          int
	percentage uint8
}

// NewEqualWeight creates an equal-weight scheme over n parties.
func NewEqualWeight(n int, thresholdPercentage uint8) *EqualWeight {
	return &EqualWeight{n: n, percentage: thresholdPercentage}
}

// Weight implements WeightScheme.
func (w *EqualWeight) Weight(transport.PartyIndex) uint64 {
	return 1
}

// TotalWeight implements WeightScheme.
func (w *EqualWeight) TotalWeight() uint64 {
	return uint64(w.n)
}

// ThresholdWeight implements WeightScheme.
func (w *EqualWeight) ThresholdWeight() uint64 {
	t := uint64(w.n) * uint64(w.percentage) / 100
	if t == 0 {
		t = 1
	}
	return t
}

// MapWeight assigns per-party weights, e.g. stake-proportional ones fetched
// from the chain.
type MapWeight struct {
	weights    map[transport.PartyIndex]uint64
	percentage uint8
	total      uint64
}

// NewMapWeight creates a weighted scheme. Parties absent from the map have
// weight zero.
func NewMapWeight(weights map[transport.PartyIndex]uint64, thresholdPercentage uint8) *MapWeight {
	var total uint64
	for _, w := range weights {
		total += w
	}
	return &MapWeight{weights: weights, percentage: thresholdPercentage, total: total}
}

// Weight implements WeightScheme.
func (w *MapWeight) Weight(p transport.PartyIndex) uint64 {
	return w.weights[p]
}

// TotalWeight implements WeightScheme.
func (w *MapWeight) TotalWeight() uint64 {
	return w.total
}

// ThresholdWeight implements WeightScheme.
func (w *MapWeight) ThresholdWeight() uint64 {
	t := w.total * uint64(w.percentage) / 100
	if t == 0 {
		t = 1
	}
	return t
}
