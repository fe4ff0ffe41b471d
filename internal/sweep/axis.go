package sweep

import "math"

// Axis defines one swept parameter dimension as an inclusive (start, end,
// step) sequence. A disabled axis collapses to its fixed value, so the grid
// shape is the same regardless of how many axes are active.
type Axis struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Start   float64 `yaml:"start" json:"start"`
	End     float64 `yaml:"end" json:"end"`
	Step    float64 `yaml:"step" json:"step"`
	Fixed   float64 `yaml:"fixed" json:"fixed"`
}

// Count returns the number of points the axis contributes:
// floor((end-start)/step)+1 when enabled, 1 otherwise. The small epsilon
// keeps fractional steps whose quotient lands just under a whole number
// (0.3/0.1 in floats) from losing the end point.
func (a Axis) Count() int {
	if !a.Enabled {
		return 1
	}
	if a.Step <= 0 || a.End < a.Start {
		return 1
	}
	return int(math.Floor((a.End-a.Start)/a.Step+1e-9)) + 1
}

// Values expands the axis into its ordered value sequence. Values are
// derived as start + i*step over exactly Count() indexes, so len(Values())
// always equals Count() regardless of step granularity.
func (a Axis) Values() []float64 {
	if !a.Enabled {
		return []float64{a.Fixed}
	}
	step := a.Step
	if step <= 0 {
		step = 1
	}
	out := make([]float64, a.Count())
	for i := range out {
		out[i] = a.Start + float64(i)*step
	}
	return out
}

// Point is one concrete parameter combination drawn from the grid, immutable
// once generated. Index is its ordinal position in row-major iteration
// order.
type Point struct {
	Index        int
	Voltage      float64
	PulseWidth   float64
	TriggerDelay float64
}

// Grid is the full Cartesian product of the three axes in deterministic
// row-major order: voltage iterates slowest, then pulse width, then trigger
// delay.
type Grid struct {
	Points   []Point
	Voltages []float64
	Widths   []float64
	Delays   []float64
}

// BuildGrid expands the axes into the ordered point sequence.
func BuildGrid(voltage, width, delay Axis) Grid {
	g := Grid{
		Voltages: voltage.Values(),
		Widths:   width.Values(),
		Delays:   delay.Values(),
	}

	g.Points = make([]Point, 0, len(g.Voltages)*len(g.Widths)*len(g.Delays))
	idx := 0
	for _, v := range g.Voltages {
		for _, w := range g.Widths {
			for _, d := range g.Delays {
				g.Points = append(g.Points, Point{
					Index:        idx,
					Voltage:      v,
					PulseWidth:   w,
					TriggerDelay: d,
				})
				idx++
			}
		}
	}
	return g
}

// Size returns the total number of grid points.
func (g Grid) Size() int { return len(g.Points) }
