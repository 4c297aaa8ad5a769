package partition

import (
	"errors"
	"fmt"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"github.com/banshee-data/cloudsplit/internal/monitoring"
)

// DefaultMinPoints is the smallest cell that is emitted as a partition.
const DefaultMinPoints = 10

// ErrMissingFeatureData is returned when features are requested but the
// cloud carries no colour channel.
var ErrMissingFeatureData = errors.New("features requested but no feature data available")

// Options tunes a Split call.
type Options struct {
	// UseFeatures carries colour features into each partition.
	UseFeatures bool
	// MinPoints drops cells with fewer points. Zero means DefaultMinPoints.
	MinPoints int
}

func (o Options) minPoints() int {
	if o.MinPoints <= 0 {
		return DefaultMinPoints
	}
	return o.MinPoints
}

// Partition is one emitted grid cell.
type Partition struct {
	Name     string
	Seq      int          // position in emission order
	Cell     int          // index of the class limit that produced it
	Limit    cloud.Point3 // upper-bound corner of the cell
	Points   []cloud.Point3
	Labels   []int32
	Features [][3]float64 // nil unless features were requested
	Indices  []int        // rows of the source cloud, ascending
}

// Len returns the number of points in the partition.
func (p *Partition) Len() int { return len(p.Points) }

// Cloud views the partition as a point cloud.
func (p *Partition) Cloud() *cloud.PointCloud {
	return &cloud.PointCloud{
		Points:   p.Points,
		Labels:   p.Labels,
		Features: p.Features,
		HasColor: p.Features != nil,
	}
}

// DroppedCell records a cell that consumed points but was below the
// minimum size. Its points are not returned to the working set.
type DroppedCell struct {
	Cell    int
	Limit   cloud.Point3
	Indices []int
}

// Result is the outcome of Split.
type Result struct {
	Splits     Splits
	Bounds     cloud.BoundingBox
	Limits     []cloud.Point3
	Partitions []*Partition
	Dropped    []DroppedCell
	// Unassigned lists rows no class limit covered. The boundary correction
	// keeps it empty for finite input; NaN coordinates end up here.
	Unassigned []int
}

// PointCount sums points over emitted partitions.
func (r *Result) PointCount() int {
	n := 0
	for _, p := range r.Partitions {
		n += p.Len()
	}
	return n
}

// workingSet tracks which source rows are still unassigned, as a mask over
// the source indexing.
type workingSet struct {
	points    []cloud.Point3
	remaining []int
}

func newWorkingSet(points []cloud.Point3) *workingSet {
	ws := &workingSet{points: points, remaining: make([]int, len(points))}
	for i := range ws.remaining {
		ws.remaining[i] = i
	}
	return ws
}

// take removes and returns every remaining row strictly below limit,
// preserving source order in both the taken and the remaining rows.
func (ws *workingSet) take(limit cloud.Point3) []int {
	var taken []int
	kept := ws.remaining[:0]
	for _, i := range ws.remaining {
		if below(ws.points[i], limit) {
			taken = append(taken, i)
		} else {
			kept = append(kept, i)
		}
	}
	ws.remaining = kept
	return taken
}

// PartitionName formats the sequential partition code.
func PartitionName(seq int) string { return fmt.Sprintf("%03d", seq) }

// Split partitions pc into a grid of s cells. Labels default to zeros when
// the cloud has none. The input cloud is not modified.
func Split(s Splits, pc *cloud.PointCloud, opts Options) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if pc.Len() == 0 {
		return nil, cloud.ErrEmptyCloud
	}
	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid point cloud: %w", err)
	}
	if opts.UseFeatures && !pc.HasColor {
		return nil, ErrMissingFeatureData
	}

	labels := pc.Labels
	if labels == nil {
		labels = make([]int32, pc.Len())
	}

	bb, err := pc.Bounds()
	if err != nil {
		return nil, err
	}
	limits, err := ClassLimits(bb, s)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("[partition] splits=%s bounds=%v..%v cells=%d points=%d", s, bb.Min, bb.Max, len(limits), pc.Len())

	res := &Result{Splits: s, Bounds: bb, Limits: limits}
	ws := newWorkingSet(pc.Points)
	minPts := opts.minPoints()

	for cell, limit := range limits {
		idx := ws.take(limit)
		if len(idx) < minPts {
			if len(idx) > 0 {
				res.Dropped = append(res.Dropped, DroppedCell{Cell: cell, Limit: limit, Indices: idx})
				monitoring.Logf("[partition] cell %d limit=%v dropped with %d points", cell, limit, len(idx))
			}
			continue
		}

		seq := len(res.Partitions)
		p := &Partition{
			Name:    PartitionName(seq),
			Seq:     seq,
			Cell:    cell,
			Limit:   limit,
			Points:  make([]cloud.Point3, len(idx)),
			Labels:  make([]int32, len(idx)),
			Indices: idx,
		}
		if opts.UseFeatures {
			p.Features = make([][3]float64, len(idx))
		}
		for k, i := range idx {
			p.Points[k] = pc.Points[i]
			p.Labels[k] = labels[i]
			if p.Features != nil {
				p.Features[k] = pc.Features[i]
			}
		}
		res.Partitions = append(res.Partitions, p)
		monitoring.Logf("[partition] point cloud %s loaded: %d points", p.Name, p.Len())
	}

	if len(ws.remaining) > 0 {
		res.Unassigned = append([]int(nil), ws.remaining...)
		monitoring.Logf("[partition] %d points outside every class limit", len(res.Unassigned))
	}
	return res, nil
}
