// Package probe models the physical injection probe tips and their safe
// operating envelopes. Each tip has a voltage range and, for every voltage,
// an allowed pulse-width band obtained by linear interpolation over the
// manufacturer limit table. Configurations are checked against the envelope
// before anything is sent to the pulse generator.
package probe

import (
	"fmt"

	"gonum.org/v1/gonum/interp"
)

// Tip identifies an injection probe tip.
type Tip string

const (
	Tip4mm Tip = "4mm"
	Tip1mm Tip = "1mm"
)

// ParseTip converts a configuration string into a Tip.
func ParseTip(s string) (Tip, error) {
	switch Tip(s) {
	case Tip4mm, Tip1mm:
		return Tip(s), nil
	}
	return "", fmt.Errorf("unknown probe tip %q (supported: 4mm, 1mm)", s)
}

// limitRow is one row of a tip's limit table: at Voltage volts the pulse
// width must stay within [WidthMin, WidthMax] nanoseconds.
type limitRow struct {
	Voltage  float64
	WidthMin float64
	WidthMax float64
}

// Limit tables for the supported tips. Values between rows are linearly
// interpolated; voltages outside the first/last row are rejected outright.
var limitTables = map[Tip][]limitRow{
	Tip4mm: {
		{125, 38, 500},
		{150, 35, 400},
		{200, 30, 270},
		{250, 27, 200},
		{300, 24, 160},
		{325, 28, 140},
		{350, 26, 130},
		{400, 25, 105},
	},
	Tip1mm: {
		{110, 33, 82},
		{150, 26, 55},
		{200, 21, 38},
		{250, 18, 28},
		{290, 16, 22},
		{300, 16, 20},
	},
}

// Envelope is the valid (voltage, pulse width) operating region of one tip.
type Envelope struct {
	tip      Tip
	vMin     float64
	vMax     float64
	widthMin interp.PiecewiseLinear
	widthMax interp.PiecewiseLinear
}

// EnvelopeFor builds the interpolated envelope for a tip.
func EnvelopeFor(tip Tip) (*Envelope, error) {
	rows, ok := limitTables[tip]
	if !ok {
		return nil, fmt.Errorf("unknown probe tip %q", tip)
	}

	xs := make([]float64, len(rows))
	mins := make([]float64, len(rows))
	maxs := make([]float64, len(rows))
	for i, r := range rows {
		xs[i] = r.Voltage
		mins[i] = r.WidthMin
		maxs[i] = r.WidthMax
	}

	e := &Envelope{
		tip:  tip,
		vMin: xs[0],
		vMax: xs[len(xs)-1],
	}
	if err := e.widthMin.Fit(xs, mins); err != nil {
		return nil, fmt.Errorf("fit %s width minimum: %w", tip, err)
	}
	if err := e.widthMax.Fit(xs, maxs); err != nil {
		return nil, fmt.Errorf("fit %s width maximum: %w", tip, err)
	}
	return e, nil
}

// Tip returns the tip this envelope belongs to.
func (e *Envelope) Tip() Tip { return e.tip }

// VoltageRange returns the inclusive voltage bounds of the tip.
func (e *Envelope) VoltageRange() (min, max float64) {
	return e.vMin, e.vMax
}

// WidthBounds returns the interpolated pulse-width band for a voltage. The
// voltage must lie within the tip's range.
func (e *Envelope) WidthBounds(voltage float64) (min, max float64, err error) {
	if voltage < e.vMin || voltage > e.vMax {
		return 0, 0, fmt.Errorf("voltage %gV outside %s tip range [%g, %g]V",
			voltage, e.tip, e.vMin, e.vMax)
	}
	return e.widthMin.Predict(voltage), e.widthMax.Predict(voltage), nil
}

// Check rejects any (voltage, pulse width) pair outside the envelope.
func (e *Envelope) Check(voltage, width float64) error {
	min, max, err := e.WidthBounds(voltage)
	if err != nil {
		return err
	}
	if width < min || width > max {
		return fmt.Errorf("pulse width %gns outside %s tip band [%.1f, %.1f]ns at %gV",
			width, e.tip, min, max, voltage)
	}
	return nil
}
