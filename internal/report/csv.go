package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Brosax/ChipShouter/internal/sweep"
)

// summaryHeader is the per-point aggregate row layout.
var summaryHeader = []string{
	"voltage_V", "pulse_width_ns", "delay_us",
	"glitches", "resets", "errors", "normal", "total",
	"glitch_rate", "baseline_ct", "last_ct",
}

// attemptsHeader is the raw per-attempt row layout.
var attemptsHeader = []string{
	"point_index", "voltage_V", "pulse_width_ns", "delay_us",
	"attempt", "fired_at", "classification", "response",
}

// WriteSummary emits one aggregate CSV row per finalized point, in sweep
// order.
func WriteSummary(w io.Writer, results []sweep.PointResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	for _, r := range results {
		row := []string{
			formatNum(r.Point.Voltage),
			formatNum(r.Point.PulseWidth),
			formatNum(r.Point.TriggerDelay),
			fmt.Sprintf("%d", r.Glitches),
			fmt.Sprintf("%d", r.Resets),
			fmt.Sprintf("%d", r.Errors),
			fmt.Sprintf("%d", r.Normals),
			fmt.Sprintf("%d", r.Total()),
			fmt.Sprintf("%.4f", r.GlitchRate()),
			r.BaselineCT,
			r.LastCT,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAttempts emits every classified attempt of every point, for offline
// re-analysis of the raw responses.
func WriteAttempts(w io.Writer, results []sweep.PointResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(attemptsHeader); err != nil {
		return fmt.Errorf("write attempts header: %w", err)
	}
	for _, r := range results {
		for _, a := range r.Attempts {
			row := []string{
				fmt.Sprintf("%d", r.Point.Index),
				formatNum(r.Point.Voltage),
				formatNum(r.Point.PulseWidth),
				formatNum(r.Point.TriggerDelay),
				fmt.Sprintf("%d", a.Number),
				a.FiredAt.Format(time.RFC3339Nano),
				a.Classification.String(),
				a.Raw,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write attempt row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes both the summary and the raw attempt files into dir, named
// by campaign ID. It returns the two paths.
func SaveCSV(dir, campaignID string, results []sweep.PointResult) (summaryPath, attemptsPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}

	summaryPath = filepath.Join(dir, fmt.Sprintf("sweep_%s_summary.csv", campaignID))
	attemptsPath = filepath.Join(dir, fmt.Sprintf("sweep_%s_attempts.csv", campaignID))

	if err := writeFile(summaryPath, func(w io.Writer) error {
		return WriteSummary(w, results)
	}); err != nil {
		return "", "", err
	}
	if err := writeFile(attemptsPath, func(w io.Writer) error {
		return WriteAttempts(w, results)
	}); err != nil {
		return "", "", err
	}
	return summaryPath, attemptsPath, nil
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fill(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// formatNum renders grid values without a trailing ".0" for whole numbers.
func formatNum(v float64) string {
	return fmt.Sprintf("%g", v)
}
