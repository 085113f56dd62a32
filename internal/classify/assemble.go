package classify

import "math"

// Prediction is the response contract of the service.
type Prediction struct {
	PredictedClass string             `json:"predicted_class"`
	Confidence     float64            `json:"confidence"`
	Probabilities  map[string]float64 `json:"probabilities,omitempty"`
	Attributes     Attributes         `json:"attributes"`
}

// Assembler attaches catalog attributes and rounds for presentation.
type Assembler struct {
	catalog *Catalog
}

func NewAssembler(catalog *Catalog) *Assembler {
	return &Assembler{catalog: catalog}
}

// Assemble never fails: a predicted label without attributes gets the
// fallback label's record.
func (a *Assembler) Assemble(res Result) Prediction {
	attrs, ok := a.catalog.Attributes(res.Predicted)
	if !ok {
		attrs, _ = a.catalog.Attributes(a.catalog.fallback)
	}

	p := Prediction{
		PredictedClass: res.Predicted,
		Confidence:     round4(unit(res.Confidence)),
		Attributes:     attrs,
	}

	if res.Distribution != nil {
		p.Probabilities = make(map[string]float64, len(res.Distribution))
		for label, v := range res.Distribution {
			p.Probabilities[label] = round4(v)
		}
	}

	return p
}

// unit clamps v into [0, 1]; NaN becomes 0.
func unit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
