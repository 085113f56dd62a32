package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// OutputKind tells how the model's output tensor is read.
type OutputKind string

const (
	OutputLogits OutputKind = "logits"
	OutputBinary OutputKind = "binary"
	OutputTopOne OutputKind = "top1"
)

// Device is the compute device a session runs on.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
	DeviceNone Device = "none"
)

// Metadata is the JSON sidecar exported next to the ONNX file.
type Metadata struct {
	InputShape  []int64    `json:"input_shape"`
	OutputShape []int64    `json:"output_shape"`
	Classes     []string   `json:"classes"`
	ImageSize   int        `json:"image_size"`
	OutputKind  OutputKind `json:"output_kind"`
	InputName   string     `json:"input_name"`
	OutputName  string     `json:"output_name"`
}

func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if meta.InputName == "" {
		meta.InputName = "input"
	}
	if meta.OutputName == "" {
		meta.OutputName = "output"
	}
	if meta.OutputKind == "" {
		meta.OutputKind = OutputLogits
	}

	if err := meta.validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m Metadata) validate() error {
	if len(m.InputShape) == 0 || len(m.OutputShape) == 0 {
		return fmt.Errorf("metadata needs input_shape and output_shape")
	}
	for _, dims := range [][]int64{m.InputShape, m.OutputShape} {
		for _, d := range dims {
			if d <= 0 {
				return fmt.Errorf("metadata shape %v has non-positive dimension", dims)
			}
		}
	}
	switch m.OutputKind {
	case OutputLogits, OutputBinary:
	case OutputTopOne:
		if len(m.Classes) == 0 {
			return fmt.Errorf("output_kind %q needs classes", m.OutputKind)
		}
	default:
		return fmt.Errorf("unknown output_kind %q", m.OutputKind)
	}
	return nil
}

// InputSize is the number of float values the model consumes per call.
func (m Metadata) InputSize() int {
	return volume(m.InputShape)
}

func (m Metadata) OutputSize() int {
	return volume(m.OutputShape)
}

func volume(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}
