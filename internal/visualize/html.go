package visualize

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// MaxHTMLPoints caps the points embedded in an HTML report across all
// records.
const MaxHTMLPoints = 20000

// PartitionSize is one bar of the partition chart.
type PartitionSize struct {
	Name    string
	Points  int
	Dropped bool
}

// WriteHTML renders a report page: a 3-D scatter of the records and, when
// sizes is non-empty, a bar chart of points per partition.
func WriteHTML(w io.Writer, title string, records []Record, sizes []PartitionSize) error {
	total := 0
	for i := range records {
		total += records[i].Len()
	}
	step := stride(total, MaxHTMLPoints)

	scatter := charts.NewScatter3D()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "1200px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("records=%d points=%d stride=%d", len(records), total, step)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X", Show: opts.Bool(true)}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y", Show: opts.Bool(true)}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z", Show: opts.Bool(true)}),
		charts.WithGrid3DOpts(opts.Grid3D{BoxWidth: 200, BoxDepth: 200, BoxHeight: 80}),
	)
	for i := range records {
		rec := &records[i]
		data := make([]opts.Chart3DData, 0, rec.Len()/step+1)
		for k := 0; k < rec.Len(); k += step {
			x, y, z := rec.Point(k)
			data = append(data, opts.Chart3DData{
				Value:     []interface{}{x, y, z},
				ItemStyle: &opts.ItemStyle{Color: rec.Hex(k)},
			})
		}
		scatter.AddSeries(rec.Name, data)
	}

	page := components.NewPage().SetPageTitle(title)
	page.AddCharts(scatter)

	if len(sizes) > 0 {
		names := make([]string, len(sizes))
		bars := make([]opts.BarData, len(sizes))
		for i, s := range sizes {
			names[i] = s.Name
			bars[i] = opts.BarData{Name: s.Name, Value: s.Points}
			if s.Dropped {
				bars[i].ItemStyle = &opts.ItemStyle{Color: "#d62728"}
			}
		}
		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "1200px", Height: "480px"}),
			charts.WithTitleOpts(opts.Title{Title: "Points per partition", Subtitle: "dropped cells in red"}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		bar.SetXAxis(names).AddSeries("points", bars,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
		page.AddCharts(bar)
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
