// Package inference runs partitions through an external segmentation
// service and maps the per-batch predictions back onto the source cloud.
//
// The service itself (model construction, weights, device placement) lives
// outside this module. It is reached through the Service interface, and the
// gRPC transport in this package is the production implementation.
package inference

import (
	"context"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"github.com/banshee-data/cloudsplit/internal/partition"
)

// Batch is one partition as handed to the service.
type Batch struct {
	Name     string
	Points   []cloud.Point3
	Labels   []int32
	Features [][3]float64 // nil when the run does not use colour
}

// BatchFromPartition builds the request for p. The slices are shared.
func BatchFromPartition(p *partition.Partition) *Batch {
	return &Batch{
		Name:     p.Name,
		Points:   p.Points,
		Labels:   p.Labels,
		Features: p.Features,
	}
}

// Output is the service's reply for one batch. PredictLabels uses the
// service's zero-based class numbering.
type Output struct {
	PredictLabels []int32
}

// Service runs inference on a single batch.
type Service interface {
	RunInference(ctx context.Context, b *Batch) (*Output, error)
}

// Configurer is implemented by services that accept a model configuration
// before the first batch. It returns the device the service settled on.
type Configurer interface {
	Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error)
}

// ConfigureRequest selects the model, the pipeline options and the
// checkpoint to load.
type ConfigureRequest struct {
	Model      ModelSpec
	Pipeline   PipelineSpec
	Checkpoint string
}

// ConfigureResponse reports what the service actually loaded.
type ConfigureResponse struct {
	Device string
	Model  ModelType
}

// PredictionResult pairs a partition with its predictions. Pred is
// one-based so that 0 can mean "no prediction" once results are reattached
// to the full cloud.
type PredictionResult struct {
	Name    string
	Points  []cloud.Point3
	Labels  []int32
	Pred    []int32
	Indices []int // positions in the source cloud; nil when unknown
}

// Len returns the number of points.
func (r *PredictionResult) Len() int { return len(r.Points) }
