// Package cloud holds the point-cloud data model shared by every stage:
// points with optional per-point labels and colour features, bounding boxes,
// and the on-disk formats (ASC text and the binary .pcb wire format).
package cloud

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrEmptyCloud is returned when an operation needs at least one point.
var ErrEmptyCloud = errors.New("point cloud is empty")

// ErrColorRange is returned by Validate when a colour channel lies outside
// [0,1], usually 16-bit colour read with ReadOptions.Normalized set.
var ErrColorRange = errors.New("colour outside [0,1]")

// Point3 is a cartesian point (X, Y, Z).
type Point3 [3]float64

// Axis indices into Point3.
const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
)

// PointCloud is an ordered set of points with optional parallel arrays.
// Labels and Features, when non-nil, have the same length as Points and
// share its indexing.
type PointCloud struct {
	Points   []Point3
	Labels   []int32      // nil when no ground truth is available
	Features [][3]float64 // colour normalised to [0,1]; nil unless HasColor
	HasColor bool
}

// Len returns the number of points.
func (pc *PointCloud) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.Points)
}

// Validate checks the parallel-array invariant and that colour is
// normalised.
func (pc *PointCloud) Validate() error {
	if pc == nil {
		return fmt.Errorf("nil point cloud")
	}
	n := len(pc.Points)
	if pc.Labels != nil && len(pc.Labels) != n {
		return fmt.Errorf("labels length %d does not match %d points", len(pc.Labels), n)
	}
	if pc.HasColor && len(pc.Features) != n {
		return fmt.Errorf("features length %d does not match %d points", len(pc.Features), n)
	}
	if !pc.HasColor && pc.Features != nil {
		return fmt.Errorf("features present but has_color is false")
	}
	for i, f := range pc.Features {
		for _, v := range f {
			if !(v >= 0 && v <= 1) {
				return fmt.Errorf("%w: point %d has colour %v", ErrColorRange, i, f)
			}
		}
	}
	return nil
}

// Subset copies the rows at idx into a new cloud, keeping labels and
// features in lockstep.
func (pc *PointCloud) Subset(idx []int) *PointCloud {
	out := &PointCloud{
		Points:   make([]Point3, len(idx)),
		HasColor: pc.HasColor,
	}
	if pc.Labels != nil {
		out.Labels = make([]int32, len(idx))
	}
	if pc.HasColor {
		out.Features = make([][3]float64, len(idx))
	}
	for i, j := range idx {
		out.Points[i] = pc.Points[j]
		if out.Labels != nil {
			out.Labels[i] = pc.Labels[j]
		}
		if out.Features != nil {
			out.Features[i] = pc.Features[j]
		}
	}
	return out
}

// Column extracts one axis into a flat slice.
func (pc *PointCloud) Column(axis int) []float64 {
	col := make([]float64, len(pc.Points))
	for i, p := range pc.Points {
		col[i] = p[axis]
	}
	return col
}

// BoundingBox is the per-axis extent of a cloud. It is derived on demand
// and never persisted.
type BoundingBox struct {
	Min Point3
	Max Point3
}

// Bounds computes the bounding box of the cloud.
func (pc *PointCloud) Bounds() (BoundingBox, error) {
	if pc.Len() == 0 {
		return BoundingBox{}, ErrEmptyCloud
	}
	var bb BoundingBox
	for axis := AxisX; axis <= AxisZ; axis++ {
		col := pc.Column(axis)
		bb.Min[axis] = floats.Min(col)
		bb.Max[axis] = floats.Max(col)
	}
	return bb, nil
}

// Size returns the extent along each axis.
func (bb BoundingBox) Size() Point3 {
	return Point3{bb.Max[0] - bb.Min[0], bb.Max[1] - bb.Min[1], bb.Max[2] - bb.Min[2]}
}
