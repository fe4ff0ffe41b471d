package report

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/Brosax/ChipShouter/internal/sweep"
)

// Summary aggregates a finished campaign for the end-of-run report.
type Summary struct {
	Points   int
	Attempts int
	Glitches int
	Normals  int
	Errors   int
	Resets   int

	MeanGlitchRate   float64
	StdDevGlitchRate float64
	MaxGlitchRate    float64

	// Top holds the highest-glitch-rate points, best first, ties broken by
	// sweep order so the output is deterministic.
	Top []sweep.PointResult
}

// Summarize reduces the point results to campaign-level statistics. topN
// bounds the length of Top; pass 0 to omit it.
func Summarize(results []sweep.PointResult, topN int) Summary {
	s := Summary{Points: len(results)}
	rates := make([]float64, 0, len(results))

	for _, r := range results {
		s.Attempts += r.Total()
		s.Glitches += r.Glitches
		s.Normals += r.Normals
		s.Errors += r.Errors
		s.Resets += r.Resets

		rate := r.GlitchRate()
		rates = append(rates, rate)
		if rate > s.MaxGlitchRate {
			s.MaxGlitchRate = rate
		}
	}

	if len(rates) > 0 {
		s.MeanGlitchRate = stat.Mean(rates, nil)
		if len(rates) > 1 {
			s.StdDevGlitchRate = stat.StdDev(rates, nil)
		}
	}

	if topN > 0 {
		top := make([]sweep.PointResult, len(results))
		copy(top, results)
		sort.SliceStable(top, func(i, j int) bool {
			return top[i].GlitchRate() > top[j].GlitchRate()
		})
		if topN > len(top) {
			topN = len(top)
		}
		s.Top = top[:topN]
	}
	return s
}
