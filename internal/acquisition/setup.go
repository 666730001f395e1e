package acquisition

import (
	"time"

	"codeberg.org/mutker/dsostream/internal/config"
	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/instrument"
	"codeberg.org/mutker/dsostream/internal/logger"
	"codeberg.org/mutker/dsostream/internal/store"
)

// Setup is what configuring the instrument established for the run.
type Setup struct {
	Identity     instrument.Identity
	Profiles     []store.CalibrationProfile
	TimeScale    float64
	SamplingRate float64
	PointsMode   string
	Points       int
	BufferSize   int
	RecordTime   time.Duration
}

// Configure applies cfg to the instrument and reads back the values the
// instrument settled on. Every calibration profile is built from those
// values, not from the request.
func Configure(inst instrument.Instrument, cfg *config.Config, log logger.Logger) (*Setup, error) {
	errFactory := errors.New()
	fail := func(step string, err error) error {
		return errFactory.Wrap(errors.ErrInstrumentUnavailable, err).WithMessage("Failed to configure instrument: " + step)
	}

	id, err := inst.Identity()
	if err != nil {
		return nil, fail("identity", err)
	}
	log.Info().
		Str("brand", id.Brand).
		Str("model", id.Model).
		Str("serial", id.Serial).
		Str("firmware", id.Firmware).
		Msg("Connected to instrument")

	s := &Setup{Identity: id}

	if s.TimeScale, err = inst.SetTimeScale(cfg.TimeScale); err != nil {
		return nil, fail("time scale", err)
	}
	if s.SamplingRate, err = inst.SetSamplingRate(cfg.SamplingRate); err != nil {
		return nil, fail("sampling rate", err)
	}
	if s.PointsMode, err = inst.SetPointsMode(cfg.PointsMode); err != nil {
		return nil, fail("points mode", err)
	}
	if cfg.Points > 0 {
		if s.Points, err = inst.SetPoints(cfg.Points); err != nil {
			return nil, fail("points", err)
		}
	}

	for _, ch := range cfg.Channels {
		if err := inst.SetChannel(instrument.ChannelConfig{
			Channel:   ch.Channel,
			Scale:     ch.VScale,
			Coupling:  ch.Coupling,
			BWLimit:   ch.BWLimit != 0,
			ProbeAttn: ch.ProbeAttn,
			Invert:    ch.Invert != 0,
			Display:   true,
		}); err != nil {
			return nil, fail("channel", err)
		}
	}

	if err := inst.SetTrigger(instrument.TriggerConfig{
		Mode:     cfg.TriggerMode,
		Source:   cfg.TriggerSource,
		Slope:    cfg.TriggerSlope,
		Level:    cfg.TriggerLevel,
		Coupling: cfg.TriggerCoupling,
		Sweep:    cfg.TriggerSweep,
	}); err != nil {
		return nil, fail("trigger", err)
	}

	resolution, err := inst.TimeResolution()
	if err != nil {
		return nil, fail("time resolution", err)
	}
	if s.BufferSize, err = inst.BufferSize(); err != nil {
		return nil, fail("buffer size", err)
	}
	s.RecordTime = time.Duration(float64(s.BufferSize) * resolution * float64(time.Second))

	for _, ch := range cfg.Channels {
		scale, err := inst.VerticalScale(ch.Channel)
		if err != nil {
			return nil, fail("vertical scale", err)
		}
		s.Profiles = append(s.Profiles, store.CalibrationProfile{
			Channel:        ch.Channel,
			Label:          ch.Label,
			VerticalScale:  scale,
			SamplingRate:   s.SamplingRate,
			TimeScale:      s.TimeScale,
			TimeResolution: resolution,
		})
	}

	log.Info().
		Float64("time_scale", s.TimeScale).
		Float64("sampling_rate", s.SamplingRate).
		Str("points_mode", s.PointsMode).
		Int("points", s.Points).
		Int("buffer_size", s.BufferSize).
		Float64("time_resolution", resolution).
		Dur("record_time", s.RecordTime).
		Msg("Instrument configured")

	return s, nil
}
