package classify

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Auto requests automatic detection instead of a named class.
	Auto = "auto"
	// Unknown is reported when no known class can be predicted.
	Unknown = "unknown"
)

// Attributes describes a grain class.
type Attributes struct {
	Color      string  `json:"color" mapstructure:"color" yaml:"color"`
	SizeMM     float64 `json:"size_mm" mapstructure:"size_mm" yaml:"size_mm"`
	ProteinPct float64 `json:"protein_pct" mapstructure:"protein_pct" yaml:"protein_pct"`
}

// Catalog is the fixed, ordered set of class labels together with their
// attributes. It is built once at startup and never mutated.
type Catalog struct {
	labels     []string
	index      map[string]int
	positive   string
	fallback   string
	attributes map[string]Attributes
}

// NewCatalog validates and copies its inputs. positive is the label a binary
// head scores; fallback receives attribute lookups and rounding residue for
// labels the catalog does not know.
func NewCatalog(labels []string, positive, fallback string, attributes map[string]Attributes) (*Catalog, error) {
	if len(labels) < 2 {
		return nil, errors.New("catalog needs at least two labels")
	}

	c := &Catalog{
		labels:     make([]string, len(labels)),
		index:      make(map[string]int, len(labels)),
		positive:   positive,
		fallback:   fallback,
		attributes: make(map[string]Attributes, len(attributes)),
	}

	for i, label := range labels {
		if label == "" || label == Auto || label == Unknown {
			return nil, fmt.Errorf("invalid class label %q", label)
		}
		// requests are matched after trimming and lowercasing
		if label != strings.ToLower(strings.TrimSpace(label)) {
			return nil, fmt.Errorf("class label %q must be lowercase without surrounding spaces", label)
		}
		if _, dup := c.index[label]; dup {
			return nil, fmt.Errorf("duplicate class label %q", label)
		}
		c.labels[i] = label
		c.index[label] = i
	}

	if !c.Contains(positive) {
		return nil, fmt.Errorf("positive label %q is not a known class", positive)
	}
	if !c.Contains(fallback) {
		return nil, fmt.Errorf("fallback label %q is not a known class", fallback)
	}

	for label, attrs := range attributes {
		c.attributes[label] = attrs
	}

	return c, nil
}

// DefaultCatalog returns the five pulse classes the service ships with.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultLabels(), "toor", "toor", DefaultAttributes())
	if err != nil {
		panic(err)
	}
	return c
}

func DefaultLabels() []string {
	return []string{"toor", "chana", "red_beans", "kidney_beans", "moong"}
}

func DefaultAttributes() map[string]Attributes {
	return map[string]Attributes{
		"toor":         {Color: "yellow", SizeMM: 6.5, ProteinPct: 22.0},
		"chana":        {Color: "beige", SizeMM: 4.0, ProteinPct: 20.0},
		"red_beans":    {Color: "red", SizeMM: 7.0, ProteinPct: 23.0},
		"kidney_beans": {Color: "dark red", SizeMM: 8.0, ProteinPct: 24.0},
		"moong":        {Color: "green", SizeMM: 3.5, ProteinPct: 25.0},
	}
}

// Labels returns a copy of the ordered labels.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

func (c *Catalog) Len() int { return len(c.labels) }

func (c *Catalog) Contains(label string) bool {
	_, ok := c.index[label]
	return ok
}

func (c *Catalog) Positive() string { return c.positive }

func (c *Catalog) Fallback() string { return c.fallback }

// Attributes returns the attribute record for label, if one was configured.
func (c *Catalog) Attributes(label string) (Attributes, bool) {
	attrs, ok := c.attributes[label]
	return attrs, ok
}
