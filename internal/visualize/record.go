// Package visualize turns clouds and prediction results into static
// artefacts: PNG projections for cross-section inspection and a
// self-contained HTML report with a 3-D scatter and partition sizes.
package visualize

import (
	"fmt"
	"image/color"
	"math/rand"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"github.com/banshee-data/cloudsplit/internal/monitoring"
	"github.com/banshee-data/cloudsplit/internal/serialize"
)

// Record is one named layer to draw. Points and Color hold packed
// triples: x,y,z and r,g,b in [0,1].
type Record struct {
	Name   string
	Points []float32
	Color  []float32
}

// Len returns the number of points.
func (r *Record) Len() int { return len(r.Points) / 3 }

// Point returns point i.
func (r *Record) Point(i int) (x, y, z float64) {
	return float64(r.Points[3*i]), float64(r.Points[3*i+1]), float64(r.Points[3*i+2])
}

// RGBA returns the colour of point i.
func (r *Record) RGBA(i int) color.NRGBA {
	return color.NRGBA{R: unit8(r.Color[3*i]), G: unit8(r.Color[3*i+1]), B: unit8(r.Color[3*i+2]), A: 255}
}

// Hex returns the colour of point i as #rrggbb.
func (r *Record) Hex(i int) string {
	c := r.RGBA(i)
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func unit8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

func packPoints(pts []cloud.Point3) []float32 {
	out := make([]float32, 0, 3*len(pts))
	for _, p := range pts {
		out = append(out, float32(p[0]), float32(p[1]), float32(p[2]))
	}
	return out
}

// FromCloud draws pc in its own colours. A cloud without colour is not an
// error: a notice is logged and every point gets a random colour from rng.
func FromCloud(name string, pc *cloud.PointCloud, rng *rand.Rand) Record {
	rec := Record{Name: name, Points: packPoints(pc.Points), Color: make([]float32, 0, 3*pc.Len())}
	if pc.HasColor && len(pc.Features) == pc.Len() {
		for _, c := range pc.Features {
			rec.Color = append(rec.Color, float32(c[0]), float32(c[1]), float32(c[2]))
		}
		return rec
	}
	monitoring.Noticef("[visualize] %s has no colour channel, using random colour", name)
	for range pc.Len() {
		rec.Color = append(rec.Color, rng.Float32(), rng.Float32(), rng.Float32())
	}
	return rec
}

// FromPredictions colours points by predicted class.
func FromPredictions(name string, pts []cloud.Point3, pred []int32) Record {
	rec := Record{Name: name, Points: packPoints(pts), Color: make([]float32, 0, 3*len(pts))}
	for i := range pts {
		var class int32
		if i < len(pred) {
			class = pred[i]
		}
		c := ClassColor(class)
		rec.Color = append(rec.Color, c[0], c[1], c[2])
	}
	return rec
}

// FromResult colours a result record by its predictions.
func FromResult(r serialize.Record) Record {
	return FromPredictions(r.Name, r.Points, r.Pred)
}

// palette is indexed by class-1; class 0 (no prediction) is grey.
var palette = [][3]float32{
	{0.122, 0.467, 0.706}, {1.000, 0.498, 0.055}, {0.173, 0.627, 0.173}, {0.839, 0.153, 0.157},
	{0.580, 0.404, 0.741}, {0.549, 0.337, 0.294}, {0.890, 0.467, 0.761}, {0.737, 0.741, 0.133},
	{0.090, 0.745, 0.812}, {0.682, 0.780, 0.910}, {1.000, 0.733, 0.471}, {0.596, 0.875, 0.541},
	{1.000, 0.596, 0.588}, {0.773, 0.690, 0.835}, {0.769, 0.612, 0.580}, {0.969, 0.714, 0.824},
	{0.859, 0.859, 0.553}, {0.620, 0.855, 0.898}, {0.322, 0.329, 0.639}, {0.388, 0.475, 0.224},
}

var unassigned = [3]float32{0.5, 0.5, 0.5}

// ClassColor returns the colour for a one-based class; the palette wraps.
func ClassColor(class int32) [3]float32 {
	if class <= 0 {
		return unassigned
	}
	return palette[int(class-1)%len(palette)]
}

// stride returns the step that keeps at most limit of n points.
func stride(n, limit int) int {
	if limit <= 0 || n <= limit {
		return 1
	}
	return (n + limit - 1) / limit
}
