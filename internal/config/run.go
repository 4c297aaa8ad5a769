// Package config loads the run configuration (JSON) and the external model
// configuration (Open3D-ML style YAML or JSON).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/cloudsplit/internal/inference"
	"github.com/banshee-data/cloudsplit/internal/partition"
	"github.com/banshee-data/cloudsplit/internal/serialize"
)

// Defaults for fields left out of a run configuration.
const (
	DefaultInferenceAddr = "localhost:50071"
	DefaultProvenanceDB  = "cloudsplit.db"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// RunConfig configures one pipeline run. Every field is optional; the
// Get* accessors supply defaults, so partial files are safe.
type RunConfig struct {
	// Partitioning
	Splits             []int `json:"splits,omitempty"` // [x, y, z]
	MinPartitionPoints *int  `json:"min_partition_points,omitempty"`
	UseFeatures        *bool `json:"use_features,omitempty"`

	// Output
	ChunkSize    *int    `json:"chunk_size,omitempty"`
	OutputDir    *string `json:"output_dir,omitempty"`    // default: the input's directory
	ProvenanceDB *string `json:"provenance_db,omitempty"` // "" disables the ledger

	// Inference
	InferenceAddr  *string                 `json:"inference_addr,omitempty"`
	CheckpointPath *string                 `json:"checkpoint_path,omitempty"`
	CheckpointGlob *string                 `json:"checkpoint_glob,omitempty"`
	CheckpointDir  *string                 `json:"checkpoint_dir,omitempty"` // default: the input's directory
	Model          *inference.ModelSpec    `json:"model,omitempty"`
	Pipeline       *inference.PipelineSpec `json:"pipeline,omitempty"`
	ModelConfig    *string                 `json:"model_config,omitempty"` // YAML/JSON model file
}

// LoadRunConfig reads and validates a JSON run configuration. The file must
// have a .json extension and be at most 1MB.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := readLimited(path, ".json")
	if err != nil {
		return nil, err
	}
	cfg := &RunConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readLimited(path string, exts ...string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	ok := false
	for _, e := range exts {
		ok = ok || ext == e
	}
	if !ok {
		return nil, fmt.Errorf("config file must have one of %v extensions, got %q", exts, ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}

// Validate checks the fields that are set.
func (c *RunConfig) Validate() error {
	if c.Splits != nil {
		if len(c.Splits) != 3 {
			return fmt.Errorf("splits must have 3 entries [x, y, z], got %d", len(c.Splits))
		}
		if err := c.GetSplits().Validate(); err != nil {
			return err
		}
	}
	if c.MinPartitionPoints != nil && *c.MinPartitionPoints < 1 {
		return fmt.Errorf("min_partition_points must be at least 1, got %d", *c.MinPartitionPoints)
	}
	if c.ChunkSize != nil && *c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be at least 1, got %d", *c.ChunkSize)
	}
	if c.CheckpointGlob != nil {
		if _, err := filepath.Match(*c.CheckpointGlob, ""); err != nil {
			return fmt.Errorf("invalid checkpoint_glob %q: %w", *c.CheckpointGlob, err)
		}
	}
	if c.Model != nil {
		if _, err := inference.ParseModelType(string(c.Model.Type)); err != nil {
			return err
		}
	}
	return nil
}

// GetSplits returns the grid, 1x1x1 by default.
func (c *RunConfig) GetSplits() partition.Splits {
	if len(c.Splits) != 3 {
		return partition.Splits{X: 1, Y: 1, Z: 1}
	}
	return partition.Splits{X: c.Splits[0], Y: c.Splits[1], Z: c.Splits[2]}
}

// GetMinPartitionPoints returns the drop threshold.
func (c *RunConfig) GetMinPartitionPoints() int {
	if c.MinPartitionPoints == nil {
		return partition.DefaultMinPoints
	}
	return *c.MinPartitionPoints
}

// GetUseFeatures reports whether colour is sent to the model.
func (c *RunConfig) GetUseFeatures() bool {
	return c.UseFeatures != nil && *c.UseFeatures
}

// GetChunkSize returns the serializer chunk size.
func (c *RunConfig) GetChunkSize() int {
	if c.ChunkSize == nil {
		return serialize.DefaultChunkSize
	}
	return *c.ChunkSize
}

// GetOutputDir returns OutputDir or inputDir.
func (c *RunConfig) GetOutputDir(inputDir string) string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return inputDir
	}
	return *c.OutputDir
}

// GetProvenanceDB returns the ledger path; empty means no ledger.
func (c *RunConfig) GetProvenanceDB() string {
	if c.ProvenanceDB == nil {
		return DefaultProvenanceDB
	}
	return *c.ProvenanceDB
}

// GetInferenceAddr returns the inference service address.
func (c *RunConfig) GetInferenceAddr() string {
	if c.InferenceAddr == nil || *c.InferenceAddr == "" {
		return DefaultInferenceAddr
	}
	return *c.InferenceAddr
}

// GetCheckpointPath returns the explicit checkpoint, or "" to discover one.
func (c *RunConfig) GetCheckpointPath() string {
	if c.CheckpointPath == nil {
		return ""
	}
	return *c.CheckpointPath
}

// GetCheckpointGlob returns the discovery pattern.
func (c *RunConfig) GetCheckpointGlob() string {
	if c.CheckpointGlob == nil || *c.CheckpointGlob == "" {
		return inference.DefaultCheckpointGlob
	}
	return *c.CheckpointGlob
}

// GetCheckpointDir returns the discovery directory, inputDir by default.
func (c *RunConfig) GetCheckpointDir(inputDir string) string {
	if c.CheckpointDir == nil || *c.CheckpointDir == "" {
		return inputDir
	}
	return *c.CheckpointDir
}

// ModelSpecs resolves the model and pipeline. The external model_config
// file is read first; the inline model and pipeline sections then
// override its type and device and add to its params.
func (c *RunConfig) ModelSpecs() (inference.ModelSpec, inference.PipelineSpec, error) {
	var (
		model    inference.ModelSpec
		pipeline inference.PipelineSpec
	)
	if c.ModelConfig != nil && *c.ModelConfig != "" {
		mc, err := LoadModelConfig(*c.ModelConfig)
		if err != nil {
			return model, pipeline, err
		}
		model, pipeline = mc.Model, mc.Pipeline
	}
	if c.Model != nil {
		if c.Model.Type != "" {
			model.Type = c.Model.Type
		}
		model.Params = mergeParams(model.Params, c.Model.Params)
	}
	if c.Pipeline != nil {
		if c.Pipeline.Device != "" {
			pipeline.Device = c.Pipeline.Device
		}
		pipeline.Params = mergeParams(pipeline.Params, c.Pipeline.Params)
	}
	model, err := model.Resolve()
	if err != nil {
		return model, pipeline, err
	}
	pipeline.Device = pipeline.GetDevice()
	return model, pipeline, nil
}

func mergeParams(base, over map[string]any) map[string]any {
	if len(over) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Helper functions to create pointers, mostly for flag overrides.
func PtrInt(v int) *int          { return &v }
func PtrBool(v bool) *bool       { return &v }
func PtrString(v string) *string { return &v }
