package inference

import (
	"context"
	"errors"
	"sync"
)

// ErrNotConfigured is returned when a batch arrives before Configure.
var ErrNotConfigured = errors.New("inference service not configured")

// DefaultBandClasses is the class count HeightBands uses when Classes is 0.
const DefaultBandClasses = 8

// HeightBands is a deterministic stand-in for a segmentation model. It
// cuts each batch's Z range into equal bands and labels every point with
// its band, counted from the bottom. It backs the development server and
// offline runs.
type HeightBands struct {
	Classes int
	Device  string // reported device; "cpu" when empty

	mu         sync.Mutex
	configured *ConfigureRequest
}

var _ Server = (*HeightBands)(nil)

// Configure accepts any known model type and a non-empty checkpoint.
func (h *HeightBands) Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error) {
	model, err := req.Model.Resolve()
	if err != nil {
		return nil, err
	}
	if req.Checkpoint == "" {
		return nil, ErrMissingCheckpoint
	}
	cp := *req
	cp.Model = model

	h.mu.Lock()
	h.configured = &cp
	h.mu.Unlock()

	device := h.Device
	if device == "" {
		device = "cpu"
	}
	return &ConfigureResponse{Device: device, Model: model.Type}, nil
}

// Configured returns the last accepted configuration, or nil.
func (h *HeightBands) Configured() *ConfigureRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.configured
}

// RunInference labels b by height band.
func (h *HeightBands) RunInference(ctx context.Context, b *Batch) (*Output, error) {
	if h.Configured() == nil {
		return nil, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	classes := h.Classes
	if classes <= 0 {
		classes = DefaultBandClasses
	}

	out := &Output{PredictLabels: make([]int32, len(b.Points))}
	if len(b.Points) == 0 {
		return out, nil
	}
	lo, hi := b.Points[0][2], b.Points[0][2]
	for _, p := range b.Points[1:] {
		lo = min(lo, p[2])
		hi = max(hi, p[2])
	}
	span := hi - lo
	if span == 0 {
		return out, nil
	}
	for i, p := range b.Points {
		band := int((p[2] - lo) / span * float64(classes))
		out.PredictLabels[i] = int32(min(band, classes-1))
	}
	return out, nil
}
