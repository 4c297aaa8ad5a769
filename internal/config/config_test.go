package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/cloudsplit/internal/inference"
	"github.com/banshee-data/cloudsplit/internal/partition"
	"github.com/banshee-data/cloudsplit/internal/serialize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &RunConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, partition.Splits{X: 1, Y: 1, Z: 1}, cfg.GetSplits())
	assert.Equal(t, partition.DefaultMinPoints, cfg.GetMinPartitionPoints())
	assert.Equal(t, serialize.DefaultChunkSize, cfg.GetChunkSize())
	assert.False(t, cfg.GetUseFeatures())
	assert.Equal(t, "/data/scan", cfg.GetOutputDir("/data/scan"))
	assert.Equal(t, "/data/scan", cfg.GetCheckpointDir("/data/scan"))
	assert.Equal(t, DefaultProvenanceDB, cfg.GetProvenanceDB())
	assert.Equal(t, DefaultInferenceAddr, cfg.GetInferenceAddr())
	assert.Equal(t, inference.DefaultCheckpointGlob, cfg.GetCheckpointGlob())
	assert.Empty(t, cfg.GetCheckpointPath())

	model, pipeline, err := cfg.ModelSpecs()
	require.NoError(t, err)
	assert.Equal(t, inference.DefaultModel, model.Type)
	assert.Equal(t, inference.DefaultDevice, pipeline.Device)
}

func TestLoadRunConfig(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "run.json", `{
		"splits": [4, 2, 1],
		"min_partition_points": 50,
		"chunk_size": 1000,
		"use_features": true,
		"output_dir": "out",
		"provenance_db": "",
		"inference_addr": "infer:9000",
		"checkpoint_glob": "*.ckpt",
		"model": {"type": "kpconv", "params": {"num_classes": 19}},
		"pipeline": {"device": "cpu"}
	}`)

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, partition.Splits{X: 4, Y: 2, Z: 1}, cfg.GetSplits())
	assert.Equal(t, 50, cfg.GetMinPartitionPoints())
	assert.Equal(t, 1000, cfg.GetChunkSize())
	assert.True(t, cfg.GetUseFeatures())
	assert.Equal(t, "out", cfg.GetOutputDir("/in"))
	assert.Empty(t, cfg.GetProvenanceDB())
	assert.Equal(t, "infer:9000", cfg.GetInferenceAddr())
	assert.Equal(t, "*.ckpt", cfg.GetCheckpointGlob())

	model, pipeline, err := cfg.ModelSpecs()
	require.NoError(t, err)
	assert.Equal(t, inference.KPFCNN, model.Type)
	assert.Equal(t, float64(19), model.Params["num_classes"])
	assert.Equal(t, "cpu", pipeline.Device)
}

func TestLoadRunConfig_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"short splits":     `{"splits": [2, 2]}`,
		"zero split":       `{"splits": [2, 0, 1]}`,
		"min points":       `{"min_partition_points": 0}`,
		"chunk size":       `{"chunk_size": -5}`,
		"bad glob":         `{"checkpoint_glob": "[a"}`,
		"unknown model":    `{"model": {"type": "PointNet"}}`,
		"malformed json":   `{"splits": `,
		"wrong field type": `{"chunk_size": "big"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadRunConfig(writeFile(t, "run.json", body))
			assert.Error(t, err)
		})
	}

	t.Run("extension", func(t *testing.T) {
		t.Parallel()
		_, err := LoadRunConfig(writeFile(t, "run.yaml", `{}`))
		assert.ErrorContains(t, err, "extension")
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		big := `{"output_dir": "` + strings.Repeat("a", maxFileSize) + `"}`
		_, err := LoadRunConfig(writeFile(t, "run.json", big))
		assert.ErrorContains(t, err, "too large")
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		_, err := LoadRunConfig(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})
}

const randlanetYAML = `
dataset:
  name: Toronto3D
  num_points: 65536
model:
  name: RandLANet
  num_neighbors: 16
  num_layers: 5
  num_classes: 8
  dim_output: [16, 64, 128, 256, 512]
pipeline:
  name: SemanticSegmentation
  device: cuda
  batch_size: 2
`

func TestLoadModelConfig(t *testing.T) {
	t.Parallel()

	mc, err := LoadModelConfig(writeFile(t, "randlanet.yml", randlanetYAML))
	require.NoError(t, err)
	assert.Equal(t, inference.RandLANet, mc.Model.Type)
	assert.Equal(t, 16, mc.Model.Params["num_neighbors"])
	assert.Equal(t, []any{16, 64, 128, 256, 512}, mc.Model.Params["dim_output"])
	assert.NotContains(t, mc.Model.Params, "name")
	assert.Equal(t, "cuda", mc.Pipeline.Device)
	assert.Equal(t, "SemanticSegmentation", mc.Pipeline.Params["name"])
	assert.NotContains(t, mc.Pipeline.Params, "device")
}

func TestLoadModelConfig_JSONAndType(t *testing.T) {
	t.Parallel()

	mc, err := LoadModelConfig(writeFile(t, "kpfcnn.json", `{"model": {"type": "KPFCNN", "in_radius": 4.0}}`))
	require.NoError(t, err)
	assert.Equal(t, inference.KPFCNN, mc.Model.Type)
	assert.Equal(t, 4.0, mc.Model.Params["in_radius"])
	assert.Empty(t, mc.Pipeline.Device)
}

func TestLoadModelConfig_Rejects(t *testing.T) {
	t.Parallel()

	_, err := LoadModelConfig(writeFile(t, "m.yaml", "pipeline:\n  device: cpu\n"))
	assert.ErrorContains(t, err, "no model section")

	_, err = LoadModelConfig(writeFile(t, "m.yaml", "model:\n  name: PointTransformer\n"))
	assert.ErrorIs(t, err, inference.ErrUnknownModel)

	_, err = LoadModelConfig(writeFile(t, "m.yaml", "model: [unterminated\n"))
	assert.Error(t, err)

	_, err = LoadModelConfig(writeFile(t, "m.toml", "model = 1\n"))
	assert.ErrorContains(t, err, "extension")
}

func TestModelSpecs_InlineOverridesFile(t *testing.T) {
	t.Parallel()

	cfg := &RunConfig{
		ModelConfig: PtrString(writeFile(t, "randlanet.yaml", randlanetYAML)),
		Model:       &inference.ModelSpec{Params: map[string]any{"num_classes": 13}},
		Pipeline:    &inference.PipelineSpec{Device: "cpu"},
	}
	model, pipeline, err := cfg.ModelSpecs()
	require.NoError(t, err)
	assert.Equal(t, inference.RandLANet, model.Type)
	assert.Equal(t, 13, model.Params["num_classes"])
	assert.Equal(t, 16, model.Params["num_neighbors"])
	assert.Equal(t, "cpu", pipeline.Device)
	assert.Equal(t, 2, pipeline.Params["batch_size"])

	cfg.ModelConfig = PtrString(filepath.Join(t.TempDir(), "missing.yaml"))
	_, _, err = cfg.ModelSpecs()
	assert.Error(t, err)
}
