package report

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Brosax/ChipShouter/internal/sweep"
)

// viridis matches the colormap used across the project's chart output.
var viridis = []string{
	"#440154", "#482777", "#3e4989", "#31688e", "#26828e",
	"#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725",
}

// heatGrid is the glitch rate laid out over the voltage (x) and pulse-width
// (y) axes. Points sharing a cell (multiple trigger delays) are averaged.
type heatGrid struct {
	voltages []float64
	widths   []float64
	rate     map[[2]int]float64
}

func buildHeatGrid(results []sweep.PointResult) heatGrid {
	vIdx := map[float64]int{}
	wIdx := map[float64]int{}
	g := heatGrid{rate: make(map[[2]int]float64)}
	for _, r := range results {
		if _, ok := vIdx[r.Point.Voltage]; !ok {
			vIdx[r.Point.Voltage] = -1
			g.voltages = append(g.voltages, r.Point.Voltage)
		}
		if _, ok := wIdx[r.Point.PulseWidth]; !ok {
			wIdx[r.Point.PulseWidth] = -1
			g.widths = append(g.widths, r.Point.PulseWidth)
		}
	}
	sort.Float64s(g.voltages)
	sort.Float64s(g.widths)
	for i, v := range g.voltages {
		vIdx[v] = i
	}
	for i, w := range g.widths {
		wIdx[w] = i
	}

	sums := make(map[[2]int]float64)
	counts := make(map[[2]int]int)
	for _, r := range results {
		key := [2]int{vIdx[r.Point.Voltage], wIdx[r.Point.PulseWidth]}
		sums[key] += r.GlitchRate()
		counts[key]++
	}
	for key, sum := range sums {
		g.rate[key] = sum / float64(counts[key])
	}
	return g
}

// RenderHeatmap writes an interactive HTML heatmap of glitch rate over the
// voltage/pulse-width plane.
func RenderHeatmap(w io.Writer, title string, results []sweep.PointResult) error {
	g := buildHeatGrid(results)
	if len(g.voltages) == 0 {
		return fmt.Errorf("no results to plot")
	}

	xLabels := make([]string, len(g.voltages))
	for i, v := range g.voltages {
		xLabels[i] = fmt.Sprintf("%gV", v)
	}
	yLabels := make([]string, len(g.widths))
	for i, pw := range g.widths {
		yLabels[i] = fmt.Sprintf("%gns", pw)
	}

	data := make([]opts.HeatMapData, 0, len(g.rate))
	maxRate := 0.0
	for i := range g.voltages {
		for j := range g.widths {
			rate, ok := g.rate[[2]int{i, j}]
			if !ok {
				continue
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{i, j, rate}})
			if rate > maxRate {
				maxRate = rate
			}
		}
	}
	if maxRate == 0 {
		maxRate = 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: title,
			Theme:     "dark",
			Width:     "900px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("points=%d", len(results)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			Name:      "Voltage",
			SplitArea: &opts.SplitArea{Show: opts.Bool(true)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type:      "category",
			Data:      yLabels,
			Name:      "Pulse width",
			SplitArea: &opts.SplitArea{Show: opts.Bool(true)},
		}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxRate),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(xLabels).AddSeries("glitch rate", data)

	return hm.Render(w)
}

// SaveHeatmap renders the HTML heatmap to path.
func SaveHeatmap(path, title string, results []sweep.PointResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := RenderHeatmap(f, title, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
