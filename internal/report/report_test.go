package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/Brosax/ChipShouter/internal/monitoring"
	"github.com/Brosax/ChipShouter/internal/sweep"
)

func sampleResults() []sweep.PointResult {
	return []sweep.PointResult{
		{
			Point:    sweep.Point{Index: 0, Voltage: 200, PulseWidth: 100},
			Glitches: 2, Normals: 3,
			BaselineCT: "AAAA", LastCT: "BBBB",
			Attempts: []sweep.Attempt{
				{Number: 1, FiredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Raw: "AAAA", Classification: sweep.Normal},
				{Number: 2, FiredAt: time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC), Raw: "BBBB", Classification: sweep.Glitch},
			},
		},
		{
			Point:   sweep.Point{Index: 1, Voltage: 200, PulseWidth: 140},
			Normals: 5, BaselineCT: "AAAA", LastCT: "AAAA",
		},
		{
			Point:    sweep.Point{Index: 2, Voltage: 250, PulseWidth: 100},
			Glitches: 5, BaselineCT: "AAAA", LastCT: "CCCC",
		},
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleResults()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	if diff := cmp.Diff(summaryHeader, rows[0]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	want := []string{"200", "100", "0", "2", "0", "0", "3", "5", "0.4000", "AAAA", "BBBB"}
	if diff := cmp.Diff(want, rows[1]); diff != "" {
		t.Errorf("first row mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "1.0000", rows[3][8])
}

func TestWriteAttempts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAttempts(&buf, sampleResults()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	// header plus the two attempts of point 0
	require.Len(t, rows, 3)
	require.Equal(t, "glitch", rows[2][6])
	require.Equal(t, "BBBB", rows[2][7])
}

func TestSaveCSV(t *testing.T) {
	dir := t.TempDir()
	summary, attempts, err := SaveCSV(dir, "test-run", sampleResults())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "sweep_test-run_summary.csv"), summary)

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	require.Contains(t, string(data), "glitch_rate")

	data, err = os.ReadFile(attempts)
	require.NoError(t, err)
	require.Contains(t, string(data), "classification")
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleResults(), 2)

	require.Equal(t, 3, s.Points)
	require.Equal(t, 15, s.Attempts)
	require.Equal(t, 7, s.Glitches)
	require.Equal(t, 8, s.Normals)
	require.InDelta(t, (0.4+0+1.0)/3, s.MeanGlitchRate, 1e-9)
	require.InDelta(t, 1.0, s.MaxGlitchRate, 1e-9)

	require.Len(t, s.Top, 2)
	require.Equal(t, 2, s.Top[0].Point.Index)
	require.Equal(t, 0, s.Top[1].Point.Index)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, 5)
	require.Zero(t, s.Points)
	require.Zero(t, s.MeanGlitchRate)
	require.Empty(t, s.Top)
}

func TestBuildHeatGridAveragesDelays(t *testing.T) {
	results := []sweep.PointResult{
		{Point: sweep.Point{Voltage: 200, PulseWidth: 100, TriggerDelay: 0}, Glitches: 1, Normals: 0},
		{Point: sweep.Point{Voltage: 200, PulseWidth: 100, TriggerDelay: 10}, Normals: 1},
	}
	g := buildHeatGrid(results)
	require.Equal(t, []float64{200}, g.voltages)
	require.Equal(t, []float64{100}, g.widths)
	require.InDelta(t, 0.5, g.rate[[2]int{0, 0}], 1e-9)
}

func TestRenderHeatmap(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHeatmap(&buf, "glitch map", sampleResults()))
	out := buf.String()
	require.Contains(t, out, "glitch map")
	require.Contains(t, out, "echarts")
}

func TestRenderHeatmapEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, RenderHeatmap(&buf, "empty", nil))
}

func TestSaveHeatmapPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heat.png")
	require.NoError(t, SaveHeatmapPNG(path, "glitch map", sampleResults()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

// orderSink records the sequence of event kinds it sees.
type orderSink struct {
	sweep.NopSink
	mu     sync.Mutex
	events []string
}

func (s *orderSink) add(e string) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *orderSink) OnBaselineAcquired(sweep.Baseline)              { s.add("baseline") }
func (s *orderSink) OnPointStarted(sweep.Point, int, int)           { s.add("start") }
func (s *orderSink) OnAttemptClassified(sweep.Point, sweep.Attempt) { s.add("attempt") }
func (s *orderSink) OnPointFinished(sweep.Point, sweep.PointResult) { s.add("finish") }
func (s *orderSink) OnCampaignEnded(sweep.State, string)            { s.add("end") }

func (s *orderSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

func TestReporterPreservesOrder(t *testing.T) {
	inner := &orderSink{}
	r := NewReporter(inner, 0)

	r.OnBaselineAcquired(sweep.Baseline{CT: "AAAA"})
	for i := 0; i < 3; i++ {
		r.OnPointStarted(sweep.Point{Index: i}, i, 3)
		r.OnAttemptClassified(sweep.Point{Index: i}, sweep.Attempt{Number: 1})
		r.OnPointFinished(sweep.Point{Index: i}, sweep.PointResult{})
	}
	r.OnCampaignEnded(sweep.StateCompleted, "completed")
	r.Close()

	want := []string{"baseline"}
	for i := 0; i < 3; i++ {
		want = append(want, "start", "attempt", "finish")
	}
	want = append(want, "end")
	if diff := cmp.Diff(want, inner.snapshot()); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
	require.Zero(t, r.Dropped())
}

// slowSink stalls on every event to force backpressure.
type slowSink struct {
	sweep.NopSink
	mu    sync.Mutex
	delay time.Duration
	ended int
	seen  int
}

func (s *slowSink) OnAttemptClassified(sweep.Point, sweep.Attempt) {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.seen++
	s.mu.Unlock()
}

func (s *slowSink) OnCampaignEnded(sweep.State, string) {
	s.mu.Lock()
	s.ended++
	s.mu.Unlock()
}

func TestReporterAlwaysDeliversTerminalEvent(t *testing.T) {
	defer monitoring.Silence()()

	inner := &slowSink{delay: time.Millisecond}
	r := NewReporter(inner, 1)

	for i := 0; i < 500; i++ {
		r.OnAttemptClassified(sweep.Point{}, sweep.Attempt{Number: 1})
	}
	r.OnCampaignEnded(sweep.StateCompleted, "completed")
	r.Close()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if inner.ended != 1 {
		t.Fatalf("terminal event delivered %d times, want 1", inner.ended)
	}
	if r.Dropped() == 0 {
		t.Error("expected progress events to be shed under backpressure")
	}
	if inner.seen+r.Dropped() != 500 {
		t.Errorf("seen %d + dropped %d != 500", inner.seen, r.Dropped())
	}
}

func TestReporterSizedBufferDropsNothing(t *testing.T) {
	inner := &slowSink{}
	r := NewReporter(inner, 600)

	for i := 0; i < 500; i++ {
		r.OnAttemptClassified(sweep.Point{}, sweep.Attempt{Number: 1})
	}
	r.OnCampaignEnded(sweep.StateCompleted, "completed")
	r.Close()

	if r.Dropped() != 0 {
		t.Fatalf("dropped %d events with ample buffer", r.Dropped())
	}
	inner.mu.Lock()
	defer inner.mu.Unlock()
	if inner.seen != 500 || inner.ended != 1 {
		t.Errorf("seen=%d ended=%d", inner.seen, inner.ended)
	}
}

func TestLogSinkDoesNotPanic(t *testing.T) {
	defer monitoring.Silence()()

	var s LogSink
	s.OnBaselineAcquired(sweep.Baseline{CT: "AAAA", Mode: "1"})
	s.OnPointStarted(sweep.Point{Voltage: 300, PulseWidth: 80}, 0, 10)
	s.OnPointFinished(sweep.Point{}, sweep.PointResult{Glitches: 1, Aborted: "hardware fault"})
	s.OnRecovery(sweep.Point{}, sweep.RecoveryOutcome{Succeeded: true, Duration: time.Second})
	s.OnRecovery(sweep.Point{}, sweep.RecoveryOutcome{Reason: "boot banner never settled"})
	s.OnWarning("test warning")
	s.OnCampaignEnded(sweep.StateCompleted, "completed")
}
