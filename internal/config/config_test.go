package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
generator:
  port: /dev/ttyUSB0
target:
  port: /dev/ttyACM0
pulses_per_point: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/dev/ttyUSB0", cfg.Generator.Port)
	require.Equal(t, 10, cfg.PulsesPerPoint)

	// untouched fields keep their defaults
	require.Equal(t, 115200, cfg.Generator.BaudRate)
	require.Equal(t, "4mm", cfg.Probe)
	require.Equal(t, 2*time.Second, cfg.PulseInterval.Std())
	require.Equal(t, 200.0, cfg.Voltage.Start)
}

func TestLoadFullSweepConfig(t *testing.T) {
	path := writeConfig(t, `
generator:
  port: COM3
  baud_rate: 9600
target:
  port: COM4
probe: 1mm
mode: "2"
voltage:
  enabled: true
  start: 150
  end: 250
  step: 25
pulse_width:
  enabled: false
  fixed: 30
trigger_delay:
  enabled: true
  start: 0
  end: 50
  step: 10
pulse_interval: 500ms
recovery_timeout: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9600, cfg.Generator.BaudRate)
	require.Equal(t, "1mm", cfg.Probe)
	require.Equal(t, 25.0, cfg.Voltage.Step)
	require.False(t, cfg.PulseWidth.Enabled)
	require.Equal(t, 30.0, cfg.PulseWidth.Fixed)
	require.Equal(t, 500*time.Millisecond, cfg.PulseInterval.Std())
	require.Equal(t, time.Minute, cfg.RecoveryTimeout.Std())

	p := cfg.SweepParams()
	require.Equal(t, 6, p.TriggerDelay.Count())
	require.Equal(t, "2", p.Mode)
}

func TestLoadRejectsWrongExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, ".yaml extension")
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Generator.Port = "/dev/ttyUSB0"
	valid.Target.Port = "/dev/ttyACM0"
	require.NoError(t, valid.Validate())

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing generator port", func(c *Config) { c.Generator.Port = "" }, "generator.port"},
		{"missing target port", func(c *Config) { c.Target.Port = "" }, "target.port"},
		{"shared port", func(c *Config) { c.Target.Port = c.Generator.Port }, "share port"},
		{"unknown probe", func(c *Config) { c.Probe = "9mm" }, "unknown probe tip"},
		{"zero pulses", func(c *Config) { c.PulsesPerPoint = 0 }, "pulses_per_point"},
		{"zero step", func(c *Config) { c.Voltage.Step = 0 }, "voltage.step"},
		{"inverted range", func(c *Config) { c.Voltage.End = 100 }, "must not precede"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}
