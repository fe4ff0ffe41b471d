package report

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Brosax/ChipShouter/internal/sweep"
)

// rateGrid adapts heatGrid to the plotter's grid interface. Cells without
// data read as zero.
type rateGrid struct {
	g heatGrid
}

func (r rateGrid) Dims() (c, rows int) { return len(r.g.voltages), len(r.g.widths) }
func (r rateGrid) X(c int) float64     { return r.g.voltages[c] }
func (r rateGrid) Y(row int) float64   { return r.g.widths[row] }

func (r rateGrid) Z(c, row int) float64 {
	return r.g.rate[[2]int{c, row}]
}

// SaveHeatmapPNG renders a static glitch-rate heatmap, for reports that
// cannot embed the interactive HTML version.
func SaveHeatmapPNG(path, title string, results []sweep.PointResult) error {
	g := buildHeatGrid(results)
	if len(g.voltages) == 0 {
		return fmt.Errorf("no results to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Voltage (V)"
	p.Y.Label.Text = "Pulse width (ns)"

	hm := plotter.NewHeatMap(rateGrid{g: g}, palette.Heat(12, 1))
	p.Add(hm)

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save heatmap: %w", err)
	}
	return nil
}
