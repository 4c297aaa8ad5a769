package visualize

import (
	"errors"
	"fmt"

	"github.com/banshee-data/cloudsplit/internal/monitoring"
	"github.com/banshee-data/cloudsplit/internal/slicer"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// MaxPlotPoints caps the points drawn per record; larger records are
// stride-sampled.
const MaxPlotPoints = 250000

var axisNames = [3]string{"X", "Y", "Z"}

// projection exposes every step-th point of a record on two axes.
type projection struct {
	rec        *Record
	a, b, step int
}

func (p projection) Len() int { return (p.rec.Len() + p.step - 1) / p.step }

func (p projection) XY(i int) (float64, float64) {
	j := 3 * i * p.step
	return float64(p.rec.Points[j+p.a]), float64(p.rec.Points[j+p.b])
}

// SaveProjectionPNG draws records projected onto plane, each point in its
// own colour, and saves the plot to path. The image format follows the
// extension.
func SaveProjectionPNG(records []Record, plane slicer.Plane, path string) error {
	a, b, err := plane.Axes()
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s projection", plane)
	p.X.Label.Text = axisNames[a] + " (m)"
	p.Y.Label.Text = axisNames[b] + " (m)"
	p.Add(plotter.NewGrid())

	drawn := 0
	for i := range records {
		rec := &records[i]
		if rec.Len() == 0 {
			continue
		}
		step := stride(rec.Len(), MaxPlotPoints)
		sc, err := plotter.NewScatter(projection{rec: rec, a: a, b: b, step: step})
		if err != nil {
			return fmt.Errorf("scatter %s: %w", rec.Name, err)
		}
		sc.GlyphStyleFunc = func(k int) draw.GlyphStyle {
			return draw.GlyphStyle{Color: rec.RGBA(k * step), Radius: vg.Points(1), Shape: draw.CircleGlyph{}}
		}
		p.Add(sc)
		drawn += sc.Len()
		if step > 1 {
			monitoring.Logf("[visualize] %s: drawing every %d-th of %d points", rec.Name, step, rec.Len())
		}
	}
	if drawn == 0 {
		return errors.New("nothing to plot")
	}

	if err := p.Save(12*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save projection: %w", err)
	}
	monitoring.Logf("[visualize] wrote %s projection of %d points to %s", plane, drawn, path)
	return nil
}
