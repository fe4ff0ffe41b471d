package sweep

import "time"

// RecoveryOutcome describes one reset-recovery episode.
type RecoveryOutcome struct {
	Succeeded bool
	Reason    string
	Duration  time.Duration
}

// Sink receives the campaign's event stream. Events are invoked from the
// campaign goroutine in the exact order they occur: no event for a later
// point is ever delivered before the finishing event of an earlier point.
// Implementations must not block; use report.Reporter to decouple a slow
// consumer.
type Sink interface {
	OnBaselineAcquired(b Baseline)
	OnPointStarted(p Point, index, total int)
	OnAttemptClassified(p Point, a Attempt)
	OnPointFinished(p Point, r PointResult)
	OnRecovery(p Point, outcome RecoveryOutcome)
	OnWarning(msg string)
	OnCampaignEnded(state State, reason string)
}

// NopSink discards all events. Embed it to implement only part of Sink.
type NopSink struct{}

func (NopSink) OnBaselineAcquired(Baseline)          {}
func (NopSink) OnPointStarted(Point, int, int)       {}
func (NopSink) OnAttemptClassified(Point, Attempt)   {}
func (NopSink) OnPointFinished(Point, PointResult)   {}
func (NopSink) OnRecovery(Point, RecoveryOutcome)    {}
func (NopSink) OnWarning(string)                     {}
func (NopSink) OnCampaignEnded(State, string)        {}
