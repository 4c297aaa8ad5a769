package config

import (
	"fmt"

	"github.com/banshee-data/cloudsplit/internal/inference"
	"gopkg.in/yaml.v3"
)

// ModelConfig is the subset of an Open3D-ML configuration file that the
// inference service needs.
type ModelConfig struct {
	Model    inference.ModelSpec
	Pipeline inference.PipelineSpec
}

// LoadModelConfig reads a .yml, .yaml or .json model configuration with
// top-level model and pipeline sections. model.name (or model.type)
// selects the architecture and every other model key becomes a
// constructor parameter. pipeline.device sets the device. Other top-level
// sections, such as dataset, are ignored.
func LoadModelConfig(path string) (*ModelConfig, error) {
	data, err := readLimited(path, ".yml", ".yaml", ".json")
	if err != nil {
		return nil, err
	}
	var doc struct {
		Model    map[string]any `yaml:"model"`
		Pipeline map[string]any `yaml:"pipeline"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse model config %s: %w", path, err)
	}
	if doc.Model == nil {
		return nil, fmt.Errorf("model config %s has no model section", path)
	}

	mc := &ModelConfig{}
	name, _ := takeString(doc.Model, "name")
	if name == "" {
		name, _ = takeString(doc.Model, "type")
	}
	mc.Model.Type, err = inference.ParseModelType(name)
	if err != nil {
		return nil, fmt.Errorf("model config %s: %w", path, err)
	}
	mc.Model.Params = doc.Model

	if doc.Pipeline != nil {
		mc.Pipeline.Device, _ = takeString(doc.Pipeline, "device")
		mc.Pipeline.Params = doc.Pipeline
	}
	return mc, nil
}

// takeString removes key from m and returns it when it is a string.
func takeString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	delete(m, key)
	s, ok := v.(string)
	return s, ok
}
