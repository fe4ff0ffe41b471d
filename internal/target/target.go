// Package target adapts the line-oriented serial protocol of the device
// under test. The board accepts MODE and START commands, frames its answers
// between DATA_START/DATA_END markers, reports crypto-engine errors as
// ERROR:<code> lines, and prints a distinctive banner whenever it (re)boots.
// The adapter exposes raw lines and a reset predicate only; classification
// lives elsewhere.
package target

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Brosax/ChipShouter/internal/serialmux"
)

// DefaultResetMarker is the boot banner emitted by the stock firmware. The
// marker is matched as a substring anywhere in a line because boards
// interleave banner text with other output.
const DefaultResetMarker = "KW45 Ready. Waiting for commands..."

const (
	dataStartMarker = "--- DATA_START ---"
	dataEndMarker   = "--- DATA_END ---"
)

// ErrBootTimeout is returned by WaitForBoot when the boot banner never
// appears within the allowed window.
var ErrBootTimeout = errors.New("target: timed out waiting for boot banner")

// sssStatus decodes the secure-subsystem status codes the firmware attaches
// to ERROR lines.
var sssStatus = map[string]string{
	"0x5A5A5A5A": "SUCCESS",
	"0x3C3C3C3C": "FAIL",
	"0x3C3C0001": "INVALID_ARGUMENT",
	"0x5A5A0002": "RESOURCE_BUSY",
	"0x3C3C0000": "INTERNAL_OP_ERROR",
}

// StatusError is an ERROR line reported by the board's crypto engine.
type StatusError struct {
	Code    string
	Meaning string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("target: board error %s (%s)", e.Meaning, e.Code)
}

// Exchange is the outcome of one START round trip.
type Exchange struct {
	// Fields holds the key:value lines captured between the data markers,
	// e.g. KEY, PT, CT.
	Fields map[string]string

	// Raw preserves every line observed during the exchange, in order.
	Raw []string

	// Reset is set when the boot banner appeared mid-exchange.
	Reset bool

	// TimedOut is set when the exchange deadline passed before any field
	// was captured. A truncated frame that already carried fields is not a
	// timeout.
	TimedOut bool

	// Err carries a decoded ERROR line, if the board reported one.
	Err *StatusError
}

// CT returns the captured ciphertext field, or "" when absent.
func (e Exchange) CT() string { return e.Fields["CT"] }

// Adapter is the line-level access layer for the target board link.
type Adapter struct {
	link   *serialmux.Link
	marker string
}

// NewAdapter wraps an open link. An empty marker selects DefaultResetMarker.
func NewAdapter(link *serialmux.Link, resetMarker string) *Adapter {
	if resetMarker == "" {
		resetMarker = DefaultResetMarker
	}
	return &Adapter{link: link, marker: resetMarker}
}

// Send writes one command line to the board.
func (a *Adapter) Send(line string) error {
	return a.link.Send(line)
}

// ReadLine returns the next inbound line within timeout.
func (a *Adapter) ReadLine(timeout time.Duration) (string, error) {
	return a.link.ReadLine(timeout)
}

// IsResetMarker reports whether the line contains the boot banner.
func (a *Adapter) IsResetMarker(line string) bool {
	return strings.Contains(line, a.marker)
}

// Drain discards buffered inbound lines.
func (a *Adapter) Drain() { a.link.Drain() }

// SetMode selects the board's test mode and lets the acknowledgement chatter
// settle before the next exchange.
func (a *Adapter) SetMode(mode string, settle time.Duration) error {
	a.link.Drain()
	if err := a.link.Send("MODE:" + mode); err != nil {
		return fmt.Errorf("set mode %s: %w", mode, err)
	}
	if settle > 0 {
		time.Sleep(settle)
	}
	a.link.Drain()
	return nil
}

// Exchange sends START and collects the framed response. A reset banner
// short-circuits immediately: a rebooting board may stop mid-frame and the
// banner must win over a timeout. A frame truncated after some fields were
// captured (closing marker never arrives) still returns those fields with
// TimedOut unset, so a captured ciphertext is classified by comparison
// rather than discarded. Link-level failures are returned as errors;
// everything else is expressed in the Exchange value.
func (a *Adapter) Exchange(timeout time.Duration) (Exchange, error) {
	a.link.Drain()

	ex := Exchange{Fields: make(map[string]string)}
	if err := a.link.Send("START"); err != nil {
		return ex, err
	}

	deadline := time.Now().Add(timeout)
	collecting := false

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			ex.TimedOut = len(ex.Fields) == 0
			return ex, nil
		}

		line, err := a.link.ReadLine(remaining)
		if err != nil {
			if errors.Is(err, serialmux.ErrReadTimeout) {
				ex.TimedOut = len(ex.Fields) == 0
				return ex, nil
			}
			return ex, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ex.Raw = append(ex.Raw, line)

		switch {
		case a.IsResetMarker(line):
			ex.Reset = true
			return ex, nil

		case strings.Contains(line, dataStartMarker):
			collecting = true

		case strings.Contains(line, dataEndMarker):
			return ex, nil

		case strings.Contains(line, "ERROR:"):
			code := strings.TrimSpace(line[strings.LastIndex(line, ":")+1:])
			meaning, ok := sssStatus[code]
			if !ok {
				meaning = "UNKNOWN_ERROR"
			}
			ex.Err = &StatusError{Code: code, Meaning: meaning}
			return ex, nil

		case collecting && strings.Contains(line, ":"):
			parts := strings.SplitN(line, ":", 2)
			ex.Fields[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
}

// WaitForBoot blocks until the boot banner appears and the banner chatter
// goes quiet, bounded by timeout. quiet is the silence window that counts as
// settled.
func (a *Adapter) WaitForBoot(timeout, quiet time.Duration) error {
	if quiet <= 0 {
		quiet = 200 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	// phase 1: find the banner
	seen := false
	for !seen {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrBootTimeout
		}
		line, err := a.link.ReadLine(remaining)
		if err != nil {
			if errors.Is(err, serialmux.ErrReadTimeout) {
				return ErrBootTimeout
			}
			return err
		}
		seen = a.IsResetMarker(line)
	}

	// phase 2: wait for the stream to go quiet
	for {
		if time.Now().After(deadline) {
			return ErrBootTimeout
		}
		_, err := a.link.ReadLine(quiet)
		if errors.Is(err, serialmux.ErrReadTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
