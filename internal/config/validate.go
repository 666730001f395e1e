package config

import (
	"strings"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/instrument"
)

var (
	knownDrivers    = []string{"DSO3000", "DSO1000", "SIM"}
	knownCouplings  = []string{"DC", "AC", "GND"}
	knownProbes     = []int{1, 10, 100, 1000}
	knownSlopes     = []string{"POS", "NEG"}
	knownSweeps     = []string{"AUTO", "NORMAL", "SINGLE"}
	knownPointModes = []string{"NORM", "MAX", "RAW"}
	knownFormats    = []string{"hex", "binary"}
	knownTransports = []string{"tcp", "usbtmc", "serial", "gpib"}
)

const maxChannel = 4

// Validate checks the configuration before any instrument contact. The first
// offending field is reported as a FieldError attached to a configuration_error.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return errors.New().WithData(errors.ErrConfiguration, *err)
	}

	return nil
}

func (c *Config) validate() *FieldError {
	if !containsFold(knownDrivers, c.Driver) {
		return &FieldError{"driver", c.Driver, "unknown driver"}
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return &FieldError{"data_dir", c.DataDir, "must not be empty"}
	}
	if c.SamplingRate <= 0 {
		return &FieldError{"sampling_rate", c.SamplingRate, "must be positive"}
	}
	if c.TimeScale <= 0 {
		return &FieldError{"time_scale", c.TimeScale, "must be positive"}
	}
	if !containsFold(knownPointModes, c.PointsMode) {
		return &FieldError{"points_mode", c.PointsMode, "must be NORM, MAX or RAW"}
	}
	if c.Points < 0 {
		return &FieldError{"points", c.Points, "must not be negative"}
	}
	if !containsFold(knownFormats, c.WaveformFormat) {
		return &FieldError{"waveform_format", c.WaveformFormat, "must be hex or binary"}
	}

	if len(c.Channels) == 0 {
		return &FieldError{"channels", nil, "at least one channel is required"}
	}
	seen := make(map[int]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Channel < 1 || ch.Channel > maxChannel {
			return &FieldError{"channels.ch", ch.Channel, "must be between 1 and 4"}
		}
		if seen[ch.Channel] {
			return &FieldError{"channels.ch", ch.Channel, "duplicate channel"}
		}
		seen[ch.Channel] = true
		if !containsFold(knownCouplings, ch.Coupling) {
			return &FieldError{"channels.coupling", ch.Coupling, "must be DC, AC or GND"}
		}
		if !containsInt(knownProbes, ch.ProbeAttn) {
			return &FieldError{"channels.probe_attn", ch.ProbeAttn, "must be 1, 10, 100 or 1000"}
		}
		if ch.VScale <= 0 {
			return &FieldError{"channels.v_scale", ch.VScale, "must be positive"}
		}
		if ch.BWLimit != 0 && ch.BWLimit != 1 {
			return &FieldError{"channels.bw_limit", ch.BWLimit, "must be 0 or 1"}
		}
		if ch.Invert != 0 && ch.Invert != 1 {
			return &FieldError{"channels.invert", ch.Invert, "must be 0 or 1"}
		}
	}

	if !containsFold(knownSlopes, c.TriggerSlope) {
		return &FieldError{"trigger_slope", c.TriggerSlope, "must be POS or NEG"}
	}
	if !containsFold(knownSweeps, c.TriggerSweep) {
		return &FieldError{"trigger_sweep", c.TriggerSweep, "must be AUTO, NORMAL or SINGLE"}
	}
	if !containsFold(knownCouplings, c.TriggerCoupling) {
		return &FieldError{"trigger_coupling", c.TriggerCoupling, "must be DC, AC or GND"}
	}
	if _, err := instrument.TriggerSource(c.TriggerSource); err != nil {
		return &FieldError{"trigger_source", c.TriggerSource, "must be EXT or a channel 1..4"}
	}

	if !containsFold(knownTransports, c.Transport.Type) {
		return &FieldError{"transport.type", c.Transport.Type, "must be tcp, usbtmc, serial or gpib"}
	}
	if c.Driver != "SIM" && c.Transport.Address == "" {
		return &FieldError{"transport.address", c.Transport.Address, "must not be empty"}
	}
	if c.Transport.Type == "gpib" && strings.EqualFold(c.WaveformFormat, "binary") {
		return &FieldError{"waveform_format", c.WaveformFormat, "gpib transport only carries hex waveforms"}
	}

	if !LogLevel(c.LogLevel).IsValid() {
		return &FieldError{"log_level", c.LogLevel, "must be debug, info, warning (warn) or error"}
	}
	if c.MaxCycles < 0 {
		return &FieldError{"max_cycles", c.MaxCycles, "must not be negative"}
	}

	return nil
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}

	return false
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}

	return false
}
