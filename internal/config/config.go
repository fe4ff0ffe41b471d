// Package config loads and validates the campaign configuration file. The
// schema mirrors the sweep parameters: partial files are safe, omitted
// fields keep their defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Brosax/ChipShouter/internal/probe"
	"github.com/Brosax/ChipShouter/internal/serialmux"
	"github.com/Brosax/ChipShouter/internal/sweep"
)

// maxFileSize bounds the config file (1MB).
const maxFileSize = 1 * 1024 * 1024

// Duration parses from YAML as either a duration string ("500ms", "2s") or
// an integer nanosecond count.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Serial describes one serial link.
type Serial struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// Config is the root configuration.
type Config struct {
	Generator Serial `yaml:"generator"`
	Target    Serial `yaml:"target"`

	// ResetMarker overrides the boot banner used to detect target resets.
	ResetMarker string `yaml:"reset_marker"`

	Probe string `yaml:"probe"`
	Mode  string `yaml:"mode"`

	Voltage      sweep.Axis `yaml:"voltage"`
	PulseWidth   sweep.Axis `yaml:"pulse_width"`
	TriggerDelay sweep.Axis `yaml:"trigger_delay"`

	PulsesPerPoint int `yaml:"pulses_per_point"`
	PulseRepeat    int `yaml:"pulse_repeat"`
	Deadtime       int `yaml:"deadtime_ms"`

	PulseInterval   Duration `yaml:"pulse_interval"`
	AttemptTimeout  Duration `yaml:"attempt_timeout"`
	CommandTimeout  Duration `yaml:"command_timeout"`
	RecoveryTimeout Duration `yaml:"recovery_timeout"`
	ArmSettle       Duration `yaml:"arm_settle"`
	ModeSettle      Duration `yaml:"mode_settle"`
	BootQuiet       Duration `yaml:"boot_quiet"`

	OutputDir string `yaml:"output_dir"`
}

// Default returns the stock configuration. Port names are left empty; they
// have no sensible default and Validate rejects a config without them.
func Default() Config {
	return Config{
		Generator:       Serial{BaudRate: 115200},
		Target:          Serial{BaudRate: 115200},
		Probe:           string(probe.Tip4mm),
		Mode:            "1",
		// defaults stay inside the 4mm tip envelope across the whole grid
		Voltage:         sweep.Axis{Enabled: true, Start: 200, End: 300, Step: 50},
		PulseWidth:      sweep.Axis{Enabled: true, Start: 80, End: 160, Step: 40},
		TriggerDelay:    sweep.Axis{Fixed: 0},
		PulsesPerPoint:  5,
		PulseRepeat:     1,
		Deadtime:        10,
		PulseInterval:   Duration(2 * time.Second),
		AttemptTimeout:  Duration(3 * time.Second),
		CommandTimeout:  Duration(5 * time.Second),
		RecoveryTimeout: Duration(30 * time.Second),
		ArmSettle:       Duration(time.Second),
		ModeSettle:      Duration(500 * time.Millisecond),
		BootQuiet:       Duration(200 * time.Millisecond),
		OutputDir:       "results",
	}
}

// Load reads path into a Config starting from the defaults. Fields omitted
// from the file retain their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return cfg, fmt.Errorf("config file must have .yaml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes before any
// hardware is touched. Envelope checking of the full grid happens later,
// in the campaign constructor.
func (c Config) Validate() error {
	if c.Generator.Port == "" {
		return fmt.Errorf("config: generator.port is required")
	}
	if c.Target.Port == "" {
		return fmt.Errorf("config: target.port is required")
	}
	if c.Generator.Port == c.Target.Port {
		return fmt.Errorf("config: generator and target cannot share port %s", c.Generator.Port)
	}
	if _, err := probe.ParseTip(c.Probe); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.PulsesPerPoint <= 0 {
		return fmt.Errorf("config: pulses_per_point must be positive, got %d", c.PulsesPerPoint)
	}
	for _, ax := range []struct {
		name string
		axis sweep.Axis
	}{
		{"voltage", c.Voltage},
		{"pulse_width", c.PulseWidth},
		{"trigger_delay", c.TriggerDelay},
	} {
		if ax.axis.Enabled && ax.axis.Step <= 0 {
			return fmt.Errorf("config: %s.step must be positive when swept", ax.name)
		}
		if ax.axis.Enabled && ax.axis.End < ax.axis.Start {
			return fmt.Errorf("config: %s.end must not precede start", ax.name)
		}
	}
	return nil
}

// GeneratorPortOptions returns the serial options for the generator link.
func (c Config) GeneratorPortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{BaudRate: c.Generator.BaudRate}
}

// TargetPortOptions returns the serial options for the target link.
func (c Config) TargetPortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{BaudRate: c.Target.BaudRate}
}

// SweepParams maps the configuration onto campaign parameters.
func (c Config) SweepParams() sweep.Params {
	return sweep.Params{
		Tip:             probe.Tip(c.Probe),
		Voltage:         c.Voltage,
		PulseWidth:      c.PulseWidth,
		TriggerDelay:    c.TriggerDelay,
		PulsesPerPoint:  c.PulsesPerPoint,
		PulseRepeat:     c.PulseRepeat,
		Deadtime:        c.Deadtime,
		Mode:            c.Mode,
		PulseInterval:   c.PulseInterval.Std(),
		AttemptTimeout:  c.AttemptTimeout.Std(),
		RecoveryTimeout: c.RecoveryTimeout.Std(),
		ArmSettle:       c.ArmSettle.Std(),
		ModeSettle:      c.ModeSettle.Std(),
		BootQuiet:       c.BootQuiet.Std(),
	}
}
