// Campaign controller: iterates the parameter grid, sequences the per-point
// arm → fire → observe → classify protocol, drives reset recovery, and emits
// the ordered progress/result event stream.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Brosax/ChipShouter/internal/monitoring"
	"github.com/Brosax/ChipShouter/internal/probe"
	"github.com/Brosax/ChipShouter/internal/serialmux"
	"github.com/Brosax/ChipShouter/internal/shouter"
	"github.com/Brosax/ChipShouter/internal/target"
)

// Generator is the slice of the pulse generator facade the campaign drives.
type Generator interface {
	Configure(voltage, width int) error
	SetTriggerDelay(us int) error
	SetRepeat(n int) error
	SetDeadtime(ms int) error
	Arm() error
	Disarm() error
	Fire() error
	ClearFaults() error
	Mute(on bool) error
}

// TargetBoard is the slice of the target link adapter the campaign drives.
type TargetBoard interface {
	SetMode(mode string, settle time.Duration) error
	Exchange(timeout time.Duration) (target.Exchange, error)
	WaitForBoot(timeout, quiet time.Duration) error
}

// Params configures one campaign run. All timeouts are inputs, never
// hardcoded in the control flow.
type Params struct {
	Tip probe.Tip

	Voltage      Axis
	PulseWidth   Axis
	TriggerDelay Axis

	PulsesPerPoint int
	PulseRepeat    int
	Deadtime       int
	Mode           string

	PulseInterval   time.Duration
	AttemptTimeout  time.Duration
	CommandRetries  int
	ArmSettle       time.Duration
	ModeSettle      time.Duration
	RecoveryTimeout time.Duration
	BootQuiet       time.Duration
}

// withDefaults fills unset values with the firmware defaults.
func (p Params) withDefaults() Params {
	if p.PulsesPerPoint <= 0 {
		p.PulsesPerPoint = 5
	}
	if p.PulseRepeat <= 0 {
		p.PulseRepeat = 1
	}
	if p.Deadtime <= 0 {
		p.Deadtime = 10
	}
	if p.Mode == "" {
		p.Mode = "1"
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = 3 * time.Second
	}
	if p.CommandRetries <= 0 {
		p.CommandRetries = 3
	}
	if p.ArmSettle <= 0 {
		p.ArmSettle = time.Second
	}
	if p.ModeSettle <= 0 {
		p.ModeSettle = 500 * time.Millisecond
	}
	if p.RecoveryTimeout <= 0 {
		p.RecoveryTimeout = 30 * time.Second
	}
	if p.BootQuiet <= 0 {
		p.BootQuiet = 200 * time.Millisecond
	}
	return p
}

var (
	errStopped = errors.New("stopped by operator")

	// ErrAlreadyRan is returned by Run on a campaign that has executed.
	ErrAlreadyRan = errors.New("sweep: campaign already ran")
)

// Campaign owns one sweep run end to end. It executes on a single goroutine
// (the caller of Run); both device links belong exclusively to it while the
// run is live.
type Campaign struct {
	id      string
	params  Params
	grid    Grid
	env     *probe.Envelope
	gen     Generator
	tgt     TargetBoard
	sink    Sink
	metrics *Metrics

	mu       sync.Mutex
	state    State
	reason   string
	baseline Baseline
	results  []PointResult
	warned   map[string]bool
	cancel   context.CancelFunc
}

// Option customizes a Campaign.
type Option func(*Campaign)

// WithSink attaches the event consumer. Defaults to NopSink.
func WithSink(s Sink) Option {
	return func(c *Campaign) { c.sink = s }
}

// WithMetrics attaches a metrics set. Defaults to a fresh private registry.
func WithMetrics(m *Metrics) Option {
	return func(c *Campaign) { c.metrics = m }
}

// New validates the configuration and builds a campaign. The full grid is
// checked against the probe envelope here, before any pulse is fired: a
// configuration that would exceed limits partway through the sweep is
// rejected up front.
func New(params Params, gen Generator, tgt TargetBoard, opts ...Option) (*Campaign, error) {
	params = params.withDefaults()

	env, err := probe.EnvelopeFor(params.Tip)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	grid := BuildGrid(params.Voltage, params.PulseWidth, params.TriggerDelay)
	if grid.Size() == 0 {
		return nil, errors.New("invalid configuration: empty sweep grid")
	}
	for _, pt := range grid.Points {
		if err := env.Check(pt.Voltage, pt.PulseWidth); err != nil {
			return nil, fmt.Errorf("invalid configuration: grid point %d: %w", pt.Index, err)
		}
	}

	c := &Campaign{
		id:     uuid.NewString(),
		params: params,
		grid:   grid,
		env:    env,
		gen:    gen,
		tgt:    tgt,
		sink:   NopSink{},
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics()
	}
	return c, nil
}

// ID returns the unique identifier of this run.
func (c *Campaign) ID() string { return c.id }

// Grid returns the expanded parameter grid.
func (c *Campaign) Grid() Grid { return c.grid }

// Metrics returns the campaign counters.
func (c *Campaign) Metrics() *Metrics { return c.metrics }

// State returns the current lifecycle state.
func (c *Campaign) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason returns the human-readable end reason once the campaign is done.
func (c *Campaign) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Baseline returns the most recently acquired baseline.
func (c *Campaign) Baseline() Baseline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline
}

// Results returns a copy of the finalized point results. Safe to call at any
// time, including after a stop or failure: finalized entries survive every
// exit path.
func (c *Campaign) Results() []PointResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PointResult, len(c.results))
	copy(out, c.results)
	return out
}

// Stop requests a cooperative stop. The controller honors it at the next
// attempt boundary; an in-flight hardware command is never interrupted.
func (c *Campaign) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Campaign) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run executes the campaign to completion. It blocks until the run reaches
// Completed, Stopped, or Failed; nil is returned for Completed and Stopped.
// The generator is disarmed on every exit path.
func (c *Campaign) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyRan
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateAcquiringBaseline
	c.mu.Unlock()
	defer cancel()

	err := c.run(ctx)

	// disarmed on every exit path, success or failure
	c.safeDisarm()

	switch {
	case err == nil:
		c.end(StateCompleted, "completed")
		return nil
	case errors.Is(err, errStopped):
		c.end(StateStopped, "stopped by operator")
		return nil
	default:
		c.end(StateFailed, err.Error())
		return err
	}
}

func (c *Campaign) end(state State, reason string) {
	c.mu.Lock()
	c.state = state
	c.reason = reason
	c.mu.Unlock()
	monitoring.Logf("sweep[%s]: %s (%s)", c.id, state, reason)
	c.sink.OnCampaignEnded(state, reason)
}

func (c *Campaign) run(ctx context.Context) error {
	if err := c.prepareGenerator(); err != nil {
		return err
	}

	if err := c.acquireBaseline(); err != nil {
		return err
	}

	c.setState(StateRunning)
	total := c.grid.Size()
	monitoring.Logf("sweep[%s]: grid %dV x %dPW x %dD = %d points, %d pulses/point",
		c.id, len(c.grid.Voltages), len(c.grid.Widths), len(c.grid.Delays),
		total, c.params.PulsesPerPoint)

	for _, pt := range c.grid.Points {
		if c.stopRequested(ctx) {
			return errStopped
		}

		res, err := c.runPoint(ctx, pt, total)
		// the point's record is finalized before any error is acted on,
		// so every attempted point is accounted for exactly once
		c.finalizePoint(pt, res)

		if err != nil {
			return err
		}
		if c.stopRequested(ctx) {
			return errStopped
		}
	}
	return nil
}

// prepareGenerator sets the fixed (non-swept) pulse parameters while
// disarmed. Individual failures are surfaced as warnings unless the link
// itself is gone.
func (c *Campaign) prepareGenerator() error {
	if err := c.safeDisarm(); err != nil {
		return fmt.Errorf("link lost: %w", err)
	}
	for _, step := range []struct {
		name string
		call func() error
	}{
		{"pulse repeat", func() error { return c.gen.SetRepeat(c.params.PulseRepeat) }},
		{"deadtime", func() error { return c.gen.SetDeadtime(c.params.Deadtime) }},
		{"mute", func() error { return c.gen.Mute(true) }},
		{"clear faults", c.gen.ClearFaults},
	} {
		if err := step.call(); err != nil {
			if isLinkLost(err) {
				return fmt.Errorf("link lost: %w", err)
			}
			c.warn(fmt.Sprintf("fixed param %s: %v", step.name, err))
		}
	}
	return nil
}

// acquireBaseline selects the test mode and captures the known-good
// response. Without a baseline an unattended campaign cannot classify
// glitches, so failure here is fatal.
func (c *Campaign) acquireBaseline() error {
	b, err := c.captureBaseline()
	if err != nil {
		return fmt.Errorf("baseline unavailable: %w", err)
	}
	c.mu.Lock()
	c.baseline = b
	c.mu.Unlock()
	monitoring.Logf("sweep[%s]: baseline CT %s", c.id, b.CT)
	c.sink.OnBaselineAcquired(b)
	return nil
}

func (c *Campaign) captureBaseline() (Baseline, error) {
	if err := c.tgt.SetMode(c.params.Mode, c.params.ModeSettle); err != nil {
		return Baseline{}, err
	}
	ex, err := c.tgt.Exchange(c.params.AttemptTimeout)
	if err != nil {
		return Baseline{}, err
	}
	switch {
	case ex.Reset:
		return Baseline{}, errors.New("target reset during baseline exchange")
	case ex.TimedOut:
		return Baseline{}, errors.New("no response to baseline exchange")
	case ex.Err != nil:
		return Baseline{}, ex.Err
	case ex.CT() == "":
		return Baseline{}, errors.New("baseline response carried no ciphertext")
	}
	return Baseline{CT: ex.CT(), Mode: c.params.Mode, AcquiredAt: time.Now()}, nil
}

// runPoint executes the per-point protocol and returns the point's record.
// A non-nil error is campaign-fatal; point-level problems are absorbed into
// the record instead.
func (c *Campaign) runPoint(ctx context.Context, pt Point, total int) (PointResult, error) {
	res := PointResult{Point: pt, BaselineCT: c.Baseline().CT}
	c.sink.OnPointStarted(pt, pt.Index, total)

	// reconfigure only while disarmed
	if err := c.safeDisarm(); err != nil {
		return res, fmt.Errorf("link lost: %w", err)
	}
	if err := c.configurePoint(pt); err != nil {
		if isLinkLost(err) {
			return res, fmt.Errorf("link lost: %w", err)
		}
		c.abortPoint(&res, fmt.Sprintf("configure failed: %v", err))
		return res, nil
	}
	if err := c.clearAndArm(); err != nil {
		if isLinkLost(err) {
			return res, fmt.Errorf("link lost: %w", err)
		}
		c.abortPoint(&res, fmt.Sprintf("arm failed: %v", err))
		return res, nil
	}
	// capacitor charge time after arming
	if !sleepCtx(ctx, c.params.ArmSettle) {
		return res, nil
	}

	recovered := false
	for attempt := 1; attempt <= c.params.PulsesPerPoint; attempt++ {
		if c.stopRequested(ctx) {
			return res, nil
		}
		if attempt > 1 && !sleepCtx(ctx, c.params.PulseInterval) {
			return res, nil
		}

		if err := c.firePulse(); err != nil {
			if isLinkLost(err) {
				return res, fmt.Errorf("link lost: %w", err)
			}
			var hf *shouter.HardwareFaultError
			if errors.As(err, &hf) {
				c.metrics.HardwareFaults.Inc()
				c.abortPoint(&res, fmt.Sprintf("hardware fault: %s", strings.Join(hf.Flags, ", ")))
				return res, nil
			}
			c.abortPoint(&res, fmt.Sprintf("fire failed: %v", err))
			return res, nil
		}
		c.metrics.PulsesFired.Inc()

		ex, err := c.tgt.Exchange(c.params.AttemptTimeout)
		if err != nil {
			return res, fmt.Errorf("link lost: %w", err)
		}

		obs := observationFrom(ex)
		cls := Classify(c.Baseline(), obs)
		a := Attempt{
			Number:         attempt,
			FiredAt:        time.Now(),
			Raw:            obs.Line,
			Classification: cls,
		}
		c.metrics.Attempts.WithLabelValues(cls.String()).Inc()
		c.sink.OnAttemptClassified(pt, a)

		if cls == Reset {
			res.Resets++
			monitoring.Logf("sweep[%s]: target reset at point %d attempt %d (V=%g PW=%g D=%g)",
				c.id, pt.Index, attempt, pt.Voltage, pt.PulseWidth, pt.TriggerDelay)

			if recovered {
				// one recovery per point; a second reset means the
				// point is untestable, not that we loop forever
				c.abortPoint(&res, "repeated reset after recovery")
				return res, nil
			}

			outcome, err := c.recoverTarget(ctx)
			c.sink.OnRecovery(pt, outcome)
			if err != nil {
				return res, err
			}
			recovered = true

			// the point restarts from attempt 1 against the fresh
			// baseline; aborted attempts do not count toward the quota
			res.Attempts = nil
			res.Glitches, res.Errors, res.Normals = 0, 0, 0
			res.BaselineCT = c.Baseline().CT
			attempt = 0
			continue
		}

		res.Attempts = append(res.Attempts, a)
		switch cls {
		case Glitch:
			res.Glitches++
		case Error:
			res.Errors++
		default:
			res.Normals++
		}
		if obs.CT != "" {
			res.LastCT = obs.CT
		}
	}

	return res, nil
}

// firePulse triggers one pulse, retrying acknowledgement timeouts a bounded
// number of times before giving up.
func (c *Campaign) firePulse() error {
	var err error
	for try := 0; try < c.params.CommandRetries; try++ {
		err = c.gen.Fire()
		if err == nil || !errors.Is(err, shouter.ErrCommandTimeout) {
			return err
		}
		monitoring.Logf("sweep[%s]: fire ack timeout (try %d/%d)", c.id, try+1, c.params.CommandRetries)
	}
	return err
}

func (c *Campaign) configurePoint(pt Point) error {
	if err := c.gen.Configure(int(pt.Voltage), int(pt.PulseWidth)); err != nil {
		return err
	}
	if pt.TriggerDelay > 0 {
		if err := c.gen.SetTriggerDelay(int(pt.TriggerDelay)); err != nil {
			if errors.Is(err, shouter.ErrTriggerUnsupported) {
				c.warnOnce("trigger offset not supported by this generator firmware; delay values are recorded but not applied")
				return nil
			}
			return err
		}
	}
	return nil
}

// clearAndArm clears fault flags then arms, with a small bounded retry.
func (c *Campaign) clearAndArm() error {
	var err error
	for try := 0; try < c.params.CommandRetries; try++ {
		if err = c.gen.ClearFaults(); err != nil {
			if isLinkLost(err) {
				return err
			}
			continue
		}
		if err = c.gen.Arm(); err == nil {
			return nil
		}
		if isLinkLost(err) {
			return err
		}
		monitoring.Logf("sweep[%s]: arm attempt %d failed: %v", c.id, try+1, err)
	}
	return err
}

// recoverTarget handles a mid-sweep target reset: disarm immediately so no
// pulse lands on a rebooting board, wait for the boot banner to settle,
// reacquire the baseline, and re-arm. Exceeding the recovery timeout fails
// the campaign rather than looping forever.
func (c *Campaign) recoverTarget(ctx context.Context) (RecoveryOutcome, error) {
	start := time.Now()
	c.setState(StateRecovering)

	fail := func(reason string, err error) (RecoveryOutcome, error) {
		c.metrics.RecoveryFailures.Inc()
		return RecoveryOutcome{Reason: reason, Duration: time.Since(start)}, err
	}

	if err := c.safeDisarm(); err != nil {
		return fail("disarm failed", fmt.Errorf("link lost: %w", err))
	}

	if err := c.tgt.WaitForBoot(c.params.RecoveryTimeout, c.params.BootQuiet); err != nil {
		if errors.Is(err, target.ErrBootTimeout) {
			return fail("boot banner never settled", fmt.Errorf("recovery timeout: %w", err))
		}
		return fail("target link failed", fmt.Errorf("link lost: %w", err))
	}

	b, err := c.captureBaseline()
	if err != nil {
		if isLinkLost(err) {
			return fail("target link failed", fmt.Errorf("link lost: %w", err))
		}
		return fail("baseline reacquisition failed", fmt.Errorf("recovery timeout: %w", err))
	}
	c.mu.Lock()
	c.baseline = b
	c.mu.Unlock()
	monitoring.Logf("sweep[%s]: new baseline CT after reset: %s", c.id, b.CT)
	c.sink.OnBaselineAcquired(b)

	if err := c.clearAndArm(); err != nil {
		if isLinkLost(err) {
			return fail("generator link failed", fmt.Errorf("link lost: %w", err))
		}
		return fail("re-arm failed", fmt.Errorf("recovery timeout: re-arm failed: %w", err))
	}
	sleepCtx(ctx, c.params.ArmSettle)

	c.setState(StateRunning)
	c.metrics.Recoveries.Inc()
	return RecoveryOutcome{Succeeded: true, Duration: time.Since(start)}, nil
}

// abortPoint marks the point as cut short; it is recorded as an error and
// the sweep continues with the next point.
func (c *Campaign) abortPoint(res *PointResult, reason string) {
	res.Aborted = reason
	res.Errors++
	c.warn(fmt.Sprintf("point %d aborted: %s", res.Point.Index, reason))
}

func (c *Campaign) finalizePoint(pt Point, res PointResult) {
	c.mu.Lock()
	c.results = append(c.results, res)
	c.mu.Unlock()
	c.metrics.PointsCompleted.Inc()
	c.sink.OnPointFinished(pt, res)
}

func (c *Campaign) stopRequested(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		c.setState(StateStopping)
		return true
	default:
		return false
	}
}

// safeDisarm disarms the generator with a bounded retry, tolerating
// transient acknowledgement problems. Only a dead link is reported.
func (c *Campaign) safeDisarm() error {
	var err error
	for try := 0; try < c.params.CommandRetries; try++ {
		if err = c.gen.Disarm(); err == nil {
			return nil
		}
		if isLinkLost(err) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	monitoring.Logf("sweep[%s]: disarm failed after retries: %v", c.id, err)
	return nil
}

func (c *Campaign) warn(msg string) {
	monitoring.Logf("sweep[%s]: warning: %s", c.id, msg)
	c.sink.OnWarning(msg)
}

// warnOnce deduplicates a warning within one campaign.
func (c *Campaign) warnOnce(msg string) {
	c.mu.Lock()
	if c.warned == nil {
		c.warned = make(map[string]bool)
	}
	seen := c.warned[msg]
	c.warned[msg] = true
	c.mu.Unlock()
	if !seen {
		c.warn(msg)
	}
}

func isLinkLost(err error) bool {
	return errors.Is(err, serialmux.ErrLinkClosed)
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns false
// on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
