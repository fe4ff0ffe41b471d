package probe

import (
	"math"
	"testing"
)

func TestParseTip(t *testing.T) {
	if _, err := ParseTip("4mm"); err != nil {
		t.Fatalf("ParseTip(4mm): %v", err)
	}
	if _, err := ParseTip("2mm"); err == nil {
		t.Fatal("expected error for unsupported tip")
	}
}

func TestEnvelopeTableValues(t *testing.T) {
	// exact table rows must round-trip through the interpolator
	env, err := EnvelopeFor(Tip4mm)
	if err != nil {
		t.Fatalf("EnvelopeFor: %v", err)
	}

	min, max, err := env.WidthBounds(300)
	if err != nil {
		t.Fatalf("WidthBounds(300): %v", err)
	}
	if min != 24 || max != 160 {
		t.Errorf("bounds at 300V = [%g, %g], want [24, 160]", min, max)
	}
}

func TestEnvelopeInterpolation(t *testing.T) {
	env, err := EnvelopeFor(Tip4mm)
	if err != nil {
		t.Fatalf("EnvelopeFor: %v", err)
	}

	// midway between the 150V (35..400) and 200V (30..270) rows
	min, max, err := env.WidthBounds(175)
	if err != nil {
		t.Fatalf("WidthBounds(175): %v", err)
	}
	if math.Abs(min-32.5) > 1e-9 {
		t.Errorf("interpolated min = %g, want 32.5", min)
	}
	if math.Abs(max-335) > 1e-9 {
		t.Errorf("interpolated max = %g, want 335", max)
	}
}

func TestEnvelopeCheck(t *testing.T) {
	env, err := EnvelopeFor(Tip1mm)
	if err != nil {
		t.Fatalf("EnvelopeFor: %v", err)
	}

	tests := []struct {
		name    string
		voltage float64
		width   float64
		wantErr bool
	}{
		{"inside", 200, 30, false},
		{"at minimum", 200, 21, false},
		{"at maximum", 200, 38, false},
		{"width too small", 200, 20, true},
		{"width too large", 200, 39, true},
		{"voltage below range", 100, 30, true},
		{"voltage above range", 350, 30, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.Check(tt.voltage, tt.width)
			if (err != nil) != tt.wantErr {
				t.Errorf("Check(%g, %g) error = %v, wantErr %v", tt.voltage, tt.width, err, tt.wantErr)
			}
		})
	}
}

func TestVoltageRange(t *testing.T) {
	env, err := EnvelopeFor(Tip1mm)
	if err != nil {
		t.Fatalf("EnvelopeFor: %v", err)
	}
	min, max := env.VoltageRange()
	if min != 110 || max != 300 {
		t.Errorf("voltage range = [%g, %g], want [110, 300]", min, max)
	}
}
