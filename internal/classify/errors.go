package classify

import (
	"errors"
	"fmt"
)

// ErrNoModel is returned by the normalizer for NoModel outputs; callers
// simulate a distribution instead.
var ErrNoModel = errors.New("no model output to normalize")

// NormalizationError reports model output that does not fit the catalog.
type NormalizationError struct {
	Expected int
	Actual   int
	Reason   string
}

func (e *NormalizationError) Error() string {
	if e.Reason != "" {
		return "normalize model output: " + e.Reason
	}
	return fmt.Sprintf("normalize model output: expected %d values, got %d", e.Expected, e.Actual)
}
