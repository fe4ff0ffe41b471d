package sweep

import (
	"time"

	"github.com/Brosax/ChipShouter/internal/target"
)

// Classification labels the outcome of one pulse attempt.
type Classification int

const (
	Normal Classification = iota
	Glitch
	Error
	Reset
)

func (c Classification) String() string {
	switch c {
	case Normal:
		return "normal"
	case Glitch:
		return "glitch"
	case Error:
		return "error"
	case Reset:
		return "reset"
	}
	return "unknown"
}

// Baseline is the known-good target response captured at campaign start and
// again after every recovery. The ciphertext of a fixed plaintext/key pair
// is deterministic, so any differing CT indicates a fault.
type Baseline struct {
	CT         string
	Mode       string
	AcquiredAt time.Time
}

// Observation is the classifier's view of one attempt's response.
type Observation struct {
	// Line is the raw captured response, for the result record.
	Line string

	// CT is the ciphertext field extracted from the response, if any.
	CT string

	// Reset is set when the boot banner appeared in the inbound stream.
	Reset bool

	// TimedOut is set when no complete response arrived within the
	// attempt timeout.
	TimedOut bool

	// BoardError is set when the board reported an ERROR status line.
	BoardError bool
}

// observationFrom flattens a target exchange into an Observation.
func observationFrom(ex target.Exchange) Observation {
	o := Observation{
		CT:         ex.CT(),
		Reset:      ex.Reset,
		TimedOut:   ex.TimedOut,
		BoardError: ex.Err != nil,
	}
	if ex.Err != nil {
		o.Line = ex.Err.Error()
	} else if len(ex.Raw) > 0 {
		o.Line = ex.Raw[len(ex.Raw)-1]
	}
	if o.CT != "" {
		o.Line = o.CT
	}
	return o
}

// Classify maps an observation to its Classification. It is a pure function:
// identical inputs always yield the identical label. The decision order
// matters — a reset that produced no further bytes before the banner must
// label Reset, not Error, so the reset check runs first.
func Classify(baseline Baseline, obs Observation) Classification {
	switch {
	case obs.Reset:
		return Reset
	case obs.TimedOut:
		return Error
	case obs.BoardError:
		return Error
	case baseline.CT != "" && obs.CT != "" && obs.CT != baseline.CT:
		return Glitch
	default:
		return Normal
	}
}
