// Package report consumes the campaign event stream: live progress logging,
// CSV export, aggregate statistics, and glitch-rate heatmaps.
package report

import (
	"sync"
	"time"

	"github.com/Brosax/ChipShouter/internal/monitoring"
	"github.com/Brosax/ChipShouter/internal/sweep"
)

const defaultEventBuffer = 256

// Reporter decouples a slow event consumer from the campaign goroutine. It
// forwards every event to the wrapped sink from a single worker goroutine,
// preserving order. Progress events are dropped and counted when the
// consumer falls more than the buffer behind, rather than stalling the
// sweep; the terminal OnCampaignEnded event is always delivered.
type Reporter struct {
	inner sweep.Sink
	ch    chan func(sweep.Sink)
	done  chan struct{}

	closeOnce sync.Once

	mu      sync.Mutex
	dropped int
}

// NewReporter wraps inner and starts the forwarding worker. buffer is the
// number of in-flight events tolerated before progress events are shed;
// size it to the campaign (grid points x attempts plus slack) so a run that
// never outpaces its consumer drops nothing. buffer <= 0 selects a default.
// Call Close to flush and stop the worker.
func NewReporter(inner sweep.Sink, buffer int) *Reporter {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	r := &Reporter{
		inner: inner,
		ch:    make(chan func(sweep.Sink), buffer),
		done:  make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Reporter) loop() {
	for ev := range r.ch {
		ev(r.inner)
	}
	close(r.done)
}

// Close stops accepting events, waits for buffered ones to drain, and
// reports how many were dropped under backpressure.
func (r *Reporter) Close() {
	r.closeOnce.Do(func() { close(r.ch) })
	<-r.done
	if d := r.Dropped(); d > 0 {
		monitoring.Logf("report: dropped %d events (slow consumer)", d)
	}
}

// Dropped returns the number of events discarded because the buffer was
// full.
func (r *Reporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Reporter) emit(ev func(sweep.Sink)) {
	select {
	case r.ch <- ev:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

func (r *Reporter) OnBaselineAcquired(b sweep.Baseline) {
	r.emit(func(s sweep.Sink) { s.OnBaselineAcquired(b) })
}

func (r *Reporter) OnPointStarted(p sweep.Point, index, total int) {
	r.emit(func(s sweep.Sink) { s.OnPointStarted(p, index, total) })
}

func (r *Reporter) OnAttemptClassified(p sweep.Point, a sweep.Attempt) {
	r.emit(func(s sweep.Sink) { s.OnAttemptClassified(p, a) })
}

func (r *Reporter) OnPointFinished(p sweep.Point, res sweep.PointResult) {
	r.emit(func(s sweep.Sink) { s.OnPointFinished(p, res) })
}

func (r *Reporter) OnRecovery(p sweep.Point, outcome sweep.RecoveryOutcome) {
	r.emit(func(s sweep.Sink) { s.OnRecovery(p, outcome) })
}

func (r *Reporter) OnWarning(msg string) {
	r.emit(func(s sweep.Sink) { s.OnWarning(msg) })
}

func (r *Reporter) OnCampaignEnded(state sweep.State, reason string) {
	// terminal event: the campaign is already over, so a blocking send
	// cannot stall the sweep and the consumer is guaranteed to see it
	r.ch <- func(s sweep.Sink) { s.OnCampaignEnded(state, reason) }
}

// LogSink writes human-readable progress lines for an attended run.
type LogSink struct {
	sweep.NopSink
}

func (LogSink) OnBaselineAcquired(b sweep.Baseline) {
	monitoring.Logf("baseline CT %s (mode %s)", b.CT, b.Mode)
}

func (LogSink) OnPointStarted(p sweep.Point, index, total int) {
	monitoring.Logf("point %d/%d: V=%gV PW=%gns D=%gus", index+1, total,
		p.Voltage, p.PulseWidth, p.TriggerDelay)
}

func (LogSink) OnPointFinished(p sweep.Point, r sweep.PointResult) {
	extra := ""
	if r.Aborted != "" {
		extra = " aborted: " + r.Aborted
	}
	monitoring.Logf("point %d done: %s (%d glitch, %d normal, %d error, %d reset)%s",
		p.Index+1, r.Tag(), r.Glitches, r.Normals, r.Errors, r.Resets, extra)
}

func (LogSink) OnRecovery(p sweep.Point, outcome sweep.RecoveryOutcome) {
	if outcome.Succeeded {
		monitoring.Logf("target recovered after reset in %s", outcome.Duration.Round(time.Millisecond))
		return
	}
	monitoring.Logf("target recovery failed (%s) after %s", outcome.Reason, outcome.Duration.Round(time.Millisecond))
}

func (LogSink) OnWarning(msg string) {
	monitoring.Logf("warning: %s", msg)
}

func (LogSink) OnCampaignEnded(state sweep.State, reason string) {
	monitoring.Logf("campaign %s: %s", state, reason)
}

var _ sweep.Sink = (*Reporter)(nil)
var _ sweep.Sink = LogSink{}
