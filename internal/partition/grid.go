// Package partition divides a point cloud into a regular 3-D grid of
// bounded subdomains ("partitions") for fixed-capacity inference.
//
// Assignment is sequential and destructive: class limits are visited in
// Y-X-Z order and each one takes every still-unassigned point strictly
// below it on all axes. A point therefore belongs to the first limit that
// covers it.
package partition

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"gonum.org/v1/gonum/floats"
)

// ErrInvalidSplits is returned when a split count is not a positive integer
// or the grid would exceed MaxCells.
var ErrInvalidSplits = errors.New("invalid split counts")

// MaxCells caps X*Y*Z. Each cell is at least one allocated limit and one
// partition slot, so larger grids are rejected before anything is sized.
const MaxCells = 1 << 20

// Splits holds the number of subdivisions along each axis.
type Splits struct {
	X, Y, Z int
}

// Validate checks that all split counts are positive and that the cell
// count stays within MaxCells.
func (s Splits) Validate() error {
	if s.X < 1 || s.Y < 1 || s.Z < 1 {
		return fmt.Errorf("%w: counts must be positive, got (%d,%d,%d)", ErrInvalidSplits, s.X, s.Y, s.Z)
	}
	// divide rather than multiply so the check itself cannot overflow
	if s.X > MaxCells/s.Y || s.X*s.Y > MaxCells/s.Z {
		return fmt.Errorf("%w: %s exceeds %d cells", ErrInvalidSplits, s, MaxCells)
	}
	return nil
}

// Cells returns the number of grid cells.
func (s Splits) Cells() int { return s.X * s.Y * s.Z }

func (s Splits) axis(i int) int {
	switch i {
	case cloud.AxisX:
		return s.X
	case cloud.AxisY:
		return s.Y
	default:
		return s.Z
	}
}

// String formats splits as "XxYxZ".
func (s Splits) String() string { return fmt.Sprintf("%dx%dx%d", s.X, s.Y, s.Z) }

// AxisBoundaries returns the split upper bounds for one axis: split+1 evenly
// spaced values from floor(min) to floor(max), with the last raised to
// ceil(max)+1 when it would not strictly exceed max, and the first dropped.
func AxisBoundaries(min, max float64, split int) []float64 {
	box := make([]float64, split+1)
	lo, hi := math.Floor(min), math.Floor(max)
	floats.Span(box, lo, hi)
	// pin the endpoint, floats.Span may be off by an ulp
	box[split] = hi

	if box[split] <= max {
		box[split] = math.Ceil(max + 1)
	}
	return box[1:]
}

// ClassLimits builds the per-cell upper-bound corners for bb. Y varies
// slowest, then X, then Z fastest. Partition naming is purely sequential,
// so this order is what ties a name to a cell.
func ClassLimits(bb cloud.BoundingBox, s Splits) ([]cloud.Point3, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var lim [3][]float64
	for axis := cloud.AxisX; axis <= cloud.AxisZ; axis++ {
		lim[axis] = AxisBoundaries(bb.Min[axis], bb.Max[axis], s.axis(axis))
	}

	limits := make([]cloud.Point3, 0, s.Cells())
	for _, y := range lim[cloud.AxisY] {
		for _, x := range lim[cloud.AxisX] {
			for _, z := range lim[cloud.AxisZ] {
				limits = append(limits, cloud.Point3{x, y, z})
			}
		}
	}
	return limits, nil
}

// below reports whether p is strictly below limit on every axis.
func below(p, limit cloud.Point3) bool {
	return p[0] < limit[0] && p[1] < limit[1] && p[2] < limit[2]
}
