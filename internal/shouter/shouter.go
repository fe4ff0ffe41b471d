// Package shouter is the command facade for the high-voltage pulse
// generator. It exposes the handful of synchronous operations a campaign
// needs (configure, arm, fire, fault management) on top of an opaque
// request/response transport, so the vendor wire protocol never leaks into
// the sweep logic.
package shouter

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotArmed is returned by Fire when the generator is disarmed.
	ErrNotArmed = errors.New("shouter: generator not armed")

	// ErrCommandTimeout is returned when the device does not acknowledge a
	// command within the configured window. The facade never retries; retry
	// policy belongs to the caller.
	ErrCommandTimeout = errors.New("shouter: command timed out")

	// ErrTriggerUnsupported is returned by SetTriggerDelay on firmware
	// without a trigger offset register.
	ErrTriggerUnsupported = errors.New("shouter: trigger offset not supported by firmware")
)

// HardwareFaultError reports that the device raised fault flags during an
// operation.
type HardwareFaultError struct {
	Flags []string
}

func (e *HardwareFaultError) Error() string {
	return fmt.Sprintf("shouter: hardware fault: %s", strings.Join(e.Flags, ", "))
}

// DeviceError is a non-fault rejection reported by the device itself.
type DeviceError struct {
	Command string
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("shouter: device rejected %q: %s", e.Command, e.Message)
}

// Transport is the opaque device-control boundary: one command out, one
// acknowledgement line back. Implementations own the wire encoding.
type Transport interface {
	Exec(command string, timeout time.Duration) (string, error)
	Close() error
}

// Faults is the decoded fault flag state of the generator.
type Faults struct {
	Flags []string
}

// Any reports whether any fault flag is raised.
func (f Faults) Any() bool { return len(f.Flags) > 0 }

func (f Faults) String() string {
	if !f.Any() {
		return "none"
	}
	return strings.Join(f.Flags, ", ")
}

// Controller drives the pulse generator through a Transport. Calls are
// serialized: the campaign never has two commands in flight on the device
// link. All methods block until acknowledgement or the command timeout.
type Controller struct {
	mu      sync.Mutex
	tr      Transport
	timeout time.Duration
	armed   bool
}

// NewController wraps a transport. commandTimeout bounds every exchange.
func NewController(tr Transport, commandTimeout time.Duration) *Controller {
	if commandTimeout <= 0 {
		commandTimeout = 5 * time.Second
	}
	return &Controller{tr: tr, timeout: commandTimeout}
}

// exec runs one command and interprets the acknowledgement. The caller must
// hold c.mu.
func (c *Controller) exec(command string) (string, error) {
	reply, err := c.tr.Exec(command, c.timeout)
	if err != nil {
		return "", err
	}

	switch {
	case reply == "ok":
		return "", nil
	case strings.HasPrefix(reply, "ok "):
		return strings.TrimPrefix(reply, "ok "), nil
	case strings.HasPrefix(reply, "err "):
		msg := strings.TrimPrefix(reply, "err ")
		switch msg {
		case "not armed":
			return "", ErrNotArmed
		case "unsupported":
			return "", fmt.Errorf("%w (%s)", ErrTriggerUnsupported, command)
		}
		if flags, ok := strings.CutPrefix(msg, "fault "); ok {
			return "", &HardwareFaultError{Flags: splitFlags(flags)}
		}
		return "", &DeviceError{Command: command, Message: msg}
	default:
		return "", &DeviceError{Command: command, Message: "unexpected reply " + reply}
	}
}

func splitFlags(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Configure sets voltage (volts) and pulse width (nanoseconds). The caller
// validates the pair against the probe envelope first; this facade does not
// re-derive limits. The generator should be disarmed while reconfiguring.
func (c *Controller) Configure(voltage, width int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.exec(fmt.Sprintf("voltage %d", voltage)); err != nil {
		return fmt.Errorf("set voltage: %w", err)
	}
	if _, err := c.exec(fmt.Sprintf("pulse width %d", width)); err != nil {
		return fmt.Errorf("set pulse width: %w", err)
	}
	return nil
}

// SetTriggerDelay sets the hardware trigger offset in microseconds. Firmware
// without the register yields ErrTriggerUnsupported.
func (c *Controller) SetTriggerDelay(us int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.exec(fmt.Sprintf("trigger offset %d", us))
	return err
}

// SetRepeat sets the pulse repeat count applied on each fire.
func (c *Controller) SetRepeat(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.exec(fmt.Sprintf("pulse repeat %d", n))
	return err
}

// SetDeadtime sets the inter-pulse deadtime in milliseconds.
func (c *Controller) SetDeadtime(ms int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.exec(fmt.Sprintf("pulse deadtime %d", ms))
	return err
}

// Arm charges and arms the generator.
func (c *Controller) Arm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.exec("armed 1"); err != nil {
		return err
	}
	c.armed = true
	return nil
}

// Disarm always attempts the command, even if the facade believes the
// generator is already disarmed: after a device-side reset the tracked state
// may be stale, and disarm is the safe direction.
func (c *Controller) Disarm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.exec("armed 0")
	if err == nil {
		c.armed = false
	}
	return err
}

// Armed reports the facade's view of the arm state.
func (c *Controller) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Fire triggers one pulse. Fails with ErrNotArmed when disarmed and with
// HardwareFaultError when the device reports fault flags on the attempt.
func (c *Controller) Fire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return ErrNotArmed
	}
	if _, err := c.exec("pulse 1"); err != nil {
		return err
	}
	faults, err := c.readFaults()
	if err != nil {
		return fmt.Errorf("read faults after fire: %w", err)
	}
	if faults.Any() {
		return &HardwareFaultError{Flags: faults.Flags}
	}
	return nil
}

// ReadFaults returns the current fault flags.
func (c *Controller) ReadFaults() (Faults, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readFaults()
}

func (c *Controller) readFaults() (Faults, error) {
	payload, err := c.exec("faults?")
	if err != nil {
		return Faults{}, err
	}
	if payload == "" || payload == "none" {
		return Faults{}, nil
	}
	return Faults{Flags: splitFlags(payload)}, nil
}

// ClearFaults clears latched and current fault flags.
func (c *Controller) ClearFaults() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.exec("faults clear")
	return err
}

// Mute enables or disables the audible arm warning.
func (c *Controller) Mute(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := 0
	if on {
		v = 1
	}
	_, err := c.exec(fmt.Sprintf("mute %d", v))
	return err
}

// Close closes the underlying transport.
func (c *Controller) Close() error {
	return c.tr.Close()
}
