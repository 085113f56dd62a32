package classify

import (
	"errors"
	"strings"
)

// Engine decides between normalizing model output and simulating, then
// assembles the response. It is safe for concurrent use.
type Engine struct {
	catalog    *Catalog
	normalizer *Normalizer
	simulator  *Simulator
	assembler  *Assembler
}

func NewEngine(catalog *Catalog, baseMass float64) (*Engine, error) {
	sim, err := NewSimulator(catalog, baseMass)
	if err != nil {
		return nil, err
	}
	return &Engine{
		catalog:    catalog,
		normalizer: NewNormalizer(catalog),
		simulator:  sim,
		assembler:  NewAssembler(catalog),
	}, nil
}

func (e *Engine) Catalog() *Catalog { return e.catalog }

// ParseRequested lowercases and trims a caller supplied class name. An empty
// name means Auto.
func ParseRequested(requested string) string {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		return Auto
	}
	return requested
}

// NeedsModel reports whether raw output would be used for requested.
func (e *Engine) NeedsModel(requested string) bool {
	return ParseRequested(requested) == Auto
}

// Classify simulates when a specific class was requested or when raw is
// NoModel under automatic detection (targeting the positive class), and
// normalizes raw otherwise.
func (e *Engine) Classify(requested string, raw RawOutput) (Prediction, error) {
	requested = ParseRequested(requested)
	if requested != Auto {
		return e.assembler.Assemble(e.simulator.Generate(requested)), nil
	}

	res, err := e.normalizer.Normalize(raw)
	if errors.Is(err, ErrNoModel) {
		res = e.simulator.Generate(e.catalog.positive)
	} else if err != nil {
		return Prediction{}, err
	}
	return e.assembler.Assemble(res), nil
}
