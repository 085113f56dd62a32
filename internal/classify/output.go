package classify

// RawOutput is what a model invocation produced. The set of implementations
// is closed: NoModel, Scalar, Vector and TopOne.
type RawOutput interface {
	rawOutput()
}

// NoModel means no model ran, either because none is loaded or because the
// invocation failed.
type NoModel struct{}

// Scalar is a binary head's probability for the positive class.
type Scalar struct {
	Score float64
}

// Vector holds one logit per catalog label, in catalog order.
type Vector struct {
	Logits []float64
}

// TopOne is a detection-style result carrying only the best label.
type TopOne struct {
	Label      string
	Confidence float64
}

func (NoModel) rawOutput() {}
func (Scalar) rawOutput() {}
func (Vector) rawOutput() {}
func (TopOne) rawOutput() {}

// Result is a prediction before attributes are attached. Distribution is nil
// for TopOne outputs.
type Result struct {
	Predicted    string
	Confidence   float64
	Distribution map[string]float64
}
