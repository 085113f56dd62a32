package classify

import (
	"fmt"
	"math"
)

const (
	binaryThreshold = 0.5
	sumTolerance    = 1e-3
)

// Normalizer turns raw model output into a Result over the catalog labels.
// It holds no per-request state.
type Normalizer struct {
	catalog *Catalog
}

func NewNormalizer(catalog *Catalog) *Normalizer {
	return &Normalizer{catalog: catalog}
}

// Normalize returns ErrNoModel for NoModel (and nil) outputs and a
// *NormalizationError when the output does not fit the catalog.
func (n *Normalizer) Normalize(raw RawOutput) (Result, error) {
	switch out := raw.(type) {
	case nil, NoModel:
		return Result{}, ErrNoModel
	case Scalar:
		return n.binary(out.Score)
	case Vector:
		return n.multiClass(out.Logits)
	case TopOne:
		return Result{Predicted: out.Label, Confidence: out.Confidence}, nil
	default:
		return Result{}, fmt.Errorf("unsupported model output %T", raw)
	}
}

func (n *Normalizer) binary(score float64) (Result, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return Result{}, &NormalizationError{
			Expected: 1,
			Actual:   1,
			Reason:   fmt.Sprintf("binary score %v outside [0, 1]", score),
		}
	}

	positive := n.catalog.positive
	dist := make(map[string]float64, n.catalog.Len())
	dist[positive] = score

	share := (1 - score) / float64(n.catalog.Len()-1)
	for _, label := range n.catalog.labels {
		if label != positive {
			dist[label] = share
		}
	}

	res := Result{Predicted: Unknown, Distribution: dist}
	if score >= binaryThreshold {
		res.Predicted = positive
		res.Confidence = score
	}
	return res, nil
}

func (n *Normalizer) multiClass(logits []float64) (Result, error) {
	labels := n.catalog.labels
	if len(logits) != len(labels) {
		return Result{}, &NormalizationError{Expected: len(labels), Actual: len(logits)}
	}

	probs := softmax(logits)
	if err := checkDistribution(probs); err != nil {
		return Result{}, err
	}

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}

	dist := make(map[string]float64, len(labels))
	for i, label := range labels {
		dist[label] = probs[i]
	}

	return Result{
		Predicted:    labels[best],
		Confidence:   probs[best],
		Distribution: dist,
	}, nil
}

// softmax subtracts the maximum before exponentiating so large logits do
// not overflow.
func softmax(logits []float64) []float64 {
	maxVal := math.Inf(-1)
	for _, v := range logits {
		if v > maxVal {
			maxVal = v
		}
	}

	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func checkDistribution(probs []float64) error {
	var sum float64
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return &NormalizationError{
				Expected: len(probs),
				Actual:   len(probs),
				Reason:   fmt.Sprintf("probability %v at index %d outside [0, 1]", p, i),
			}
		}
		sum += p
	}
	if math.Abs(sum-1) > sumTolerance {
		return &NormalizationError{
			Expected: len(probs),
			Actual:   len(probs),
			Reason:   fmt.Sprintf("probabilities sum to %v", sum),
		}
	}
	return nil
}
