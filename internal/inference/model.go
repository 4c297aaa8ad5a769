package inference

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownModel is returned for a model type other than the supported
// architectures.
var ErrUnknownModel = errors.New("unknown model type")

// ModelType names a segmentation architecture.
type ModelType string

const (
	RandLANet ModelType = "RandLANet"
	KPFCNN    ModelType = "KPFCNN"
)

// DefaultModel is used when a configuration names no architecture.
const DefaultModel = RandLANet

// DefaultDevice is requested when the pipeline configuration names none.
const DefaultDevice = "gpu"

// ParseModelType resolves a configured name. Matching ignores case, and
// "KPConv" is accepted for KPFCNN since configs often name the operator
// rather than the network. An empty name selects DefaultModel.
func ParseModelType(s string) (ModelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultModel, nil
	case "randlanet":
		return RandLANet, nil
	case "kpfcnn", "kpconv":
		return KPFCNN, nil
	}
	return "", fmt.Errorf("%w: %q (want %s or %s)", ErrUnknownModel, s, RandLANet, KPFCNN)
}

// ModelSpec is the architecture plus its constructor parameters, passed to
// the service verbatim.
type ModelSpec struct {
	Type   ModelType      `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Resolve validates Type, filling in DefaultModel when empty.
func (m ModelSpec) Resolve() (ModelSpec, error) {
	t, err := ParseModelType(string(m.Type))
	if err != nil {
		return ModelSpec{}, err
	}
	m.Type = t
	return m, nil
}

// PipelineSpec carries the segmentation pipeline options.
type PipelineSpec struct {
	Device string         `json:"device,omitempty" yaml:"device,omitempty"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// GetDevice returns Device or DefaultDevice.
func (p PipelineSpec) GetDevice() string {
	if p.Device == "" {
		return DefaultDevice
	}
	return p.Device
}
