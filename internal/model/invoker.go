package model

import (
	"context"
	"fmt"
	"math"

	"github.com/Brownie44l1/grain-api/internal/classify"
)

// Invoker runs a model on a preprocessed tensor. Implementations are safe
// for concurrent use.
type Invoker interface {
	Invoke(ctx context.Context, tensor []float32) (classify.RawOutput, error)
	Loaded() bool
	// InputSize is 0 when no model is loaded.
	InputSize() int
	Device() Device
	Close()
}

// Unavailable is the invoker used when no model could be loaded.
type Unavailable struct{}

func (Unavailable) Invoke(context.Context, []float32) (classify.RawOutput, error) {
	return classify.NoModel{}, nil
}

func (Unavailable) Loaded() bool { return false }

func (Unavailable) InputSize() int { return 0 }

func (Unavailable) Device() Device { return DeviceNone }

func (Unavailable) Close() {}

// interpret reads an output tensor according to the metadata. Logit vectors
// are passed on whole; their length is checked against the catalog later.
func interpret(meta Metadata, out []float32) (classify.RawOutput, error) {
	switch {
	case meta.OutputKind == OutputTopOne:
		if len(out) < 2 {
			return nil, fmt.Errorf("top1 output needs [class, confidence], got %d values", len(out))
		}
		idx := int(out[0])
		if float32(idx) != out[0] || idx < 0 || idx >= len(meta.Classes) {
			return nil, fmt.Errorf("top1 class index %v outside %d classes", out[0], len(meta.Classes))
		}
		return classify.TopOne{Label: meta.Classes[idx], Confidence: float64(out[1])}, nil

	case meta.OutputKind == OutputBinary || len(out) == 1:
		if len(out) != 1 {
			return nil, fmt.Errorf("binary output needs a single logit, got %d values", len(out))
		}
		return classify.Scalar{Score: sigmoid(float64(out[0]))}, nil

	default:
		logits := make([]float64, len(out))
		for i, v := range out {
			logits[i] = float64(v)
		}
		return classify.Vector{Logits: logits}, nil
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
