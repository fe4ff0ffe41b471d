package sweep

import "time"

// State is the campaign lifecycle state. Exactly one state is live at a time
// and only the campaign goroutine drives transitions.
type State string

const (
	StateIdle               State = "idle"
	StateAcquiringBaseline  State = "acquiring_baseline"
	StateRunning            State = "running"
	StateRecovering         State = "recovering"
	StateStopping           State = "stopping"
	StateStopped            State = "stopped"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

// Terminal reports whether the state is an end state.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCompleted || s == StateFailed
}

// Attempt records one firing at a grid point.
type Attempt struct {
	// Number is 1-based within the point. After a successful recovery the
	// numbering restarts at 1.
	Number         int
	FiredAt        time.Time
	Raw            string
	Classification Classification
}

// PointResult is the finalized record of one grid point: its attempts and
// aggregate outcome counts. Entries are appended to the campaign result in
// strictly increasing index order, one per point, before the next point
// starts.
type PointResult struct {
	Point    Point
	Attempts []Attempt

	Glitches int
	Errors   int
	Normals  int
	Resets   int

	BaselineCT string
	LastCT     string

	// Aborted carries the reason when the point was cut short (hardware
	// fault, arm failure, repeated reset) and counted as an error.
	Aborted string
}

// Total returns the number of classified attempts retained for the point.
func (r PointResult) Total() int {
	return r.Glitches + r.Errors + r.Normals + r.Resets
}

// GlitchRate returns the fraction of retained attempts labeled Glitch.
func (r PointResult) GlitchRate() float64 {
	if t := r.Total(); t > 0 {
		return float64(r.Glitches) / float64(t)
	}
	return 0
}

// Tag returns the dominant outcome label for progress reporting, mirroring
// the priority used in log output: glitch beats reset beats error.
func (r PointResult) Tag() string {
	switch {
	case r.Glitches > 0:
		return "GLITCH"
	case r.Resets > 0:
		return "RESET"
	case r.Errors > 0 || r.Aborted != "":
		return "ERROR"
	default:
		return "normal"
	}
}
