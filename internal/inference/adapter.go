package inference

import (
	"context"
	"fmt"

	"github.com/banshee-data/cloudsplit/internal/monitoring"
	"github.com/banshee-data/cloudsplit/internal/partition"
)

// previewLen is how many labels the progress log shows per batch.
const previewLen = 13

// Configure sends the model configuration once before inference. The
// model type is resolved locally first so a bad name fails before any
// network traffic.
func Configure(ctx context.Context, svc Configurer, model ModelSpec, pipeline PipelineSpec, checkpoint string) (*ConfigureResponse, error) {
	model, err := model.Resolve()
	if err != nil {
		return nil, err
	}
	if pipeline.Device == "" {
		pipeline.Device = DefaultDevice
	}
	monitoring.Logf("[inference] configuring %s (device=%s, checkpoint=%s)", model.Type, pipeline.Device, checkpoint)
	resp, err := svc.Configure(ctx, &ConfigureRequest{Model: model, Pipeline: pipeline, Checkpoint: checkpoint})
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", model.Type, err)
	}
	monitoring.Logf("[inference] %s configured, running on %s", resp.Model, resp.Device)
	return resp, nil
}

// Run sends each partition to svc in order, one call at a time, and
// re-bases predictions to start at 1. The first failure aborts the run;
// results gathered so far are discarded.
func Run(ctx context.Context, svc Service, parts []*partition.Partition) ([]PredictionResult, error) {
	results := make([]PredictionResult, 0, len(parts))
	monitoring.Logf("[inference] running inference on %d partitions", len(parts))

	for i, p := range parts {
		monitoring.Logf("[inference] iteration %d: %s (%d points)", i+1, p.Name, p.Len())
		out, err := svc.RunInference(ctx, BatchFromPartition(p))
		if err != nil {
			return nil, fmt.Errorf("inference on partition %s: %w", p.Name, err)
		}
		if len(out.PredictLabels) != p.Len() {
			return nil, fmt.Errorf("inference on partition %s: got %d predictions for %d points",
				p.Name, len(out.PredictLabels), p.Len())
		}
		monitoring.Logf("[inference] %s raw labels: %v", p.Name, head(out.PredictLabels))

		pred := make([]int32, len(out.PredictLabels))
		for k, v := range out.PredictLabels {
			pred[k] = v + 1
		}
		monitoring.Logf("[inference] %s predictions: %v", p.Name, head(pred))

		results = append(results, PredictionResult{
			Name:    p.Name,
			Points:  p.Points,
			Labels:  p.Labels,
			Pred:    pred,
			Indices: p.Indices,
		})
	}
	return results, nil
}

func head(v []int32) []int32 {
	if len(v) > previewLen {
		return v[:previewLen]
	}
	return v
}
