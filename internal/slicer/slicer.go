// Package slicer extracts narrow cross-sections of a point cloud: the
// points within a tolerance of a line drawn in one of the axis-aligned
// planes.
package slicer

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"github.com/banshee-data/cloudsplit/internal/monitoring"
)

var (
	// ErrInvalidGeometry is returned when the slicing line is degenerate.
	ErrInvalidGeometry = errors.New("slice start and end project to the same point")
	// ErrInvalidPlane is returned for a plane other than XY, XZ or YZ.
	ErrInvalidPlane = errors.New("plane must be one of XY, XZ, YZ")
	// ErrEmptySlice is returned by SliceToFile when no point is within
	// tolerance. No file is written.
	ErrEmptySlice = errors.New("slice is empty")
)

// Plane selects the two axes a slice is measured in.
type Plane string

const (
	PlaneXY Plane = "XY"
	PlaneXZ Plane = "XZ"
	PlaneYZ Plane = "YZ"
)

// ParsePlane accepts XY, XZ or YZ in any case.
func ParsePlane(s string) (Plane, error) {
	p := Plane(strings.ToUpper(strings.TrimSpace(s)))
	if _, _, err := p.Axes(); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlane, s)
	}
	return p, nil
}

// Axes returns the in-plane axis indices.
func (p Plane) Axes() (int, int, error) {
	switch p {
	case PlaneXY:
		return cloud.AxisX, cloud.AxisY, nil
	case PlaneXZ:
		return cloud.AxisX, cloud.AxisZ, nil
	case PlaneYZ:
		return cloud.AxisY, cloud.AxisZ, nil
	}
	return 0, 0, ErrInvalidPlane
}

// Project drops the out-of-plane coordinate.
func (p Plane) Project(pt cloud.Point3) (u, v float64, err error) {
	a, b, err := p.Axes()
	if err != nil {
		return 0, 0, err
	}
	return pt[a], pt[b], nil
}

// line is the implicit form a*u + b*v + c = 0 with (a,b) normalised, so
// evaluating it yields the signed perpendicular distance.
type line struct {
	a, b, c float64
}

func newLine(u0, v0, u1, v1 float64) (line, error) {
	du, dv := u1-u0, v1-v0
	norm := math.Hypot(du, dv)
	if norm == 0 {
		return line{}, ErrInvalidGeometry
	}
	a, b := -dv/norm, du/norm
	return line{a: a, b: b, c: -(a*u0 + b*v0)}, nil
}

func (l line) distance(u, v float64) float64 {
	return math.Abs(l.a*u + l.b*v + l.c)
}

// Distances returns each point's in-plane perpendicular distance to the
// infinite line through start and end.
func Distances(start, end cloud.Point3, pc *cloud.PointCloud, plane Plane) ([]float64, error) {
	a, b, err := plane.Axes()
	if err != nil {
		return nil, err
	}
	l, err := newLine(start[a], start[b], end[a], end[b])
	if err != nil {
		return nil, err
	}
	d := make([]float64, pc.Len())
	for i, p := range pc.Points {
		d[i] = l.distance(p[a], p[b])
	}
	return d, nil
}

// Slice keeps the points whose in-plane distance to the line through start
// and end is at most tolerance. Labels and features follow the points.
func Slice(start, end cloud.Point3, tolerance float64, pc *cloud.PointCloud, plane Plane) (*cloud.PointCloud, error) {
	if tolerance < 0 || math.IsNaN(tolerance) {
		return nil, fmt.Errorf("tolerance must be non-negative, got %v", tolerance)
	}
	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid point cloud: %w", err)
	}
	dist, err := Distances(start, end, pc, plane)
	if err != nil {
		return nil, err
	}

	keep := make([]int, 0, len(dist)/8)
	for i, d := range dist {
		if d <= tolerance {
			keep = append(keep, i)
		}
	}
	out := pc.Subset(keep)
	monitoring.Logf("[slice] plane=%s tol=%.3f kept %d of %d points", plane, tolerance, out.Len(), pc.Len())
	return out, nil
}

// SliceToFile slices pc and writes the result to path in the format given
// by its extension. Downstream stages consume the slice by path, so an
// empty slice fails here with ErrEmptySlice and leaves path untouched.
func SliceToFile(start, end cloud.Point3, tolerance float64, pc *cloud.PointCloud, plane Plane, path string) (*cloud.PointCloud, error) {
	out, err := Slice(start, end, tolerance, pc, plane)
	if err != nil {
		return nil, err
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w, nothing written to %s", ErrEmptySlice, path)
	}
	if err := cloud.Save(path, out); err != nil {
		return nil, fmt.Errorf("write slice: %w", err)
	}
	monitoring.Logf("[slice] wrote %d points to %s", out.Len(), path)
	return out, nil
}
