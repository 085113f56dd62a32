package classify

import (
	"fmt"
	"math"
)

// DefaultBaseMass is the probability every label starts with in a simulated
// distribution.
const DefaultBaseMass = 0.05

// Simulator produces a deterministic distribution peaked at a target label
// without running a model.
type Simulator struct {
	catalog *Catalog
	base    float64
}

// NewSimulator requires 0 < base < 1/N so the mass left for the target stays
// positive.
func NewSimulator(catalog *Catalog, base float64) (*Simulator, error) {
	limit := 1 / float64(catalog.Len())
	if math.IsNaN(base) || base <= 0 || base >= limit {
		return nil, fmt.Errorf("simulation base mass %v must be in (0, %v)", base, limit)
	}
	return &Simulator{catalog: catalog, base: base}, nil
}

// Generate builds the distribution for target. An unknown target spreads
// the remaining mass evenly and is reported as Unknown with zero confidence.
//
// Values are rounded to four decimals, then the rounding residue is added to
// a single entry: the target, or the catalog fallback when the target is
// unknown.
func (s *Simulator) Generate(target string) Result {
	labels := s.catalog.labels
	n := float64(len(labels))
	known := s.catalog.Contains(target)

	dist := make(map[string]float64, len(labels))
	for _, label := range labels {
		dist[label] = s.base
	}

	remaining := 1 - s.base*n
	if known {
		dist[target] += remaining
	} else {
		each := remaining / n
		for _, label := range labels {
			dist[label] += each
		}
	}

	var sum float64
	for _, label := range labels {
		sum += dist[label]
	}
	var rounded float64
	for _, label := range labels {
		dist[label] = round4(dist[label] / sum)
		rounded += dist[label]
	}

	sink := target
	if !known {
		sink = s.catalog.fallback
	}
	dist[sink] = round4(dist[sink] + (1 - rounded))

	if !known {
		return Result{Predicted: Unknown, Distribution: dist}
	}
	return Result{Predicted: target, Confidence: dist[target], Distribution: dist}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
