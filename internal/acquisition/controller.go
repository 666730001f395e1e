// Package acquisition runs the trigger-synchronized capture loop.
package acquisition

import (
	"context"
	"time"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/instrument"
	"codeberg.org/mutker/dsostream/internal/logger"
	"codeberg.org/mutker/dsostream/internal/metrics"
	"codeberg.org/mutker/dsostream/internal/store"
)

// Options configures a Controller.
type Options struct {
	// Channels are read and stored in this order every cycle.
	Channels []store.CalibrationProfile
	// ForceTrigger forces a trigger whenever the instrument settles in
	// Stopped while waiting.
	ForceTrigger bool
	// MaxCycles stops the run after this many stored cycles; 0 is unbounded.
	MaxCycles int
	// RecordTime is the duration one buffer spans, reported with each cycle.
	RecordTime time.Duration

	Logger  logger.Logger
	Metrics metrics.Collector
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

type Controller struct {
	inst    Instrument
	store   Store
	opts    Options
	log     logger.Logger
	metrics metrics.Collector
	now     func() time.Time
	summary *TimingSummary

	state State
	// armed is set by a Waiting observation or by a forced trigger and
	// cleared when a capture fires, so a Triggered status held across polls
	// fires once.
	armed bool
	// forced is set once a trigger was forced in the current Stopped
	// episode and cleared by Waiting or a capture.
	forced    bool
	forcedAt  time.Time
	lastDrain time.Time
	stored    int
	discarded int
	lastStart int64
}

func New(inst Instrument, st Store, opts Options) *Controller {
	c := &Controller{
		inst:    inst,
		store:   st,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		summary: NewTimingSummary(),
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	if c.metrics == nil {
		c.metrics, _ = metrics.NewService(metrics.Config{Enabled: false}, c.log)
	}
	if c.now == nil {
		c.now = time.Now
	}

	return c
}

// State returns the current cycle state.
func (c *Controller) State() State {
	return c.state
}

// Stored returns the number of cycles whose records were all persisted.
func (c *Controller) Stored() int {
	return c.stored
}

// Discarded returns the number of trigger events lost to instrument errors.
func (c *Controller) Discarded() int {
	return c.discarded
}

// Summary returns the stage latency quantiles of the stored cycles.
func (c *Controller) Summary() *TimingSummary {
	return c.summary
}

// Run polls the instrument until ctx is cancelled, MaxCycles is reached or a
// fatal error occurs. Cancellation is honoured between states, never inside
// an instrument call or a store append. The instrument and the store are
// closed before Run returns; a cancelled run returns nil.
func (c *Controller) Run(ctx context.Context) (err error) {
	defer func() {
		if closeErr := c.shutdown(); err == nil {
			err = closeErr
		}
	}()

	c.state = StateIdle
	c.lastDrain = c.now()
	var start time.Time

	for {
		if ctx.Err() != nil {
			c.log.Info().Int("stored", c.stored).Int("discarded", c.discarded).Msg("Acquisition cancelled")
			return nil
		}
		if c.opts.MaxCycles > 0 && c.stored >= c.opts.MaxCycles {
			c.log.Info().Int("stored", c.stored).Msg("Acquisition reached max cycles")
			return nil
		}

		switch c.state {
		case StateIdle:
			if err := c.inst.Run(); err != nil {
				if !errors.IsRecoverable(err) {
					return err
				}
				c.warn(err, "Failed to arm instrument")
				continue
			}
			c.state = StateArmedWaiting

		case StateArmedWaiting:
			status, err := c.inst.TriggerStatus()
			if err != nil {
				if !errors.IsRecoverable(err) {
					return err
				}
				c.warn(err, "Failed to poll trigger status")
				continue
			}
			if c.observe(status) {
				start = c.now()
				c.state = StateCaptureReady
			}

		case StateCaptureReady, StateDraining:
			if err := c.drain(ctx, start); err != nil {
				return err
			}
		}
	}
}

// observe applies one polled status and reports whether a capture is ready.
func (c *Controller) observe(status instrument.Status) bool {
	switch status {
	case instrument.StatusWaiting:
		c.armed = true
		c.forced = false
	case instrument.StatusTriggered:
		if c.armed {
			c.armed = false
			c.forced = false
			return true
		}
	case instrument.StatusStopped:
		if !c.opts.ForceTrigger || c.forced {
			return false
		}
		if err := c.inst.ForceTrigger(); err != nil {
			c.warn(err, "Failed to force trigger")
			return false
		}
		c.forced = true
		c.forcedAt = c.now()
		c.armed = true
		c.log.Debug().Msg("Trigger forced")
	}

	return false
}

// drain captures one trigger event. Instrument failures discard the event
// and re-arm; a store failure is returned and ends the run.
func (c *Controller) drain(ctx context.Context, start time.Time) error {
	c.state = StateDraining
	report := &CycleReport{
		Started: start,
		Wait:    start.Sub(c.lastDrain),
	}
	if !c.forcedAt.IsZero() && !c.forcedAt.After(start) {
		report.TriggerSet = start.Sub(c.forcedAt)
	}
	c.forcedAt = time.Time{}

	records, err := c.capture(start, report)
	if err != nil {
		c.discarded++
		report.Discarded = true
		c.warn(err, "Trigger event discarded")
		c.rearm(report)
		c.finish(ctx, report)
		return nil
	}

	for _, rec := range records {
		began := c.now()
		if err := c.store.Append(rec); err != nil {
			c.log.ErrorWithCode(asError(err)).Int("channel", rec.Channel).Msg("Failed to store record")
			return err
		}
		report.Stores = append(report.Stores, ChannelDuration{Channel: rec.Channel, Duration: c.now().Sub(began)})
	}
	c.stored++
	if len(records) > 0 {
		c.lastStart = records[0].AcquisitionStart
	}

	c.rearm(report)
	c.finish(ctx, report)
	report.log(c.log, c.opts.RecordTime)
	c.summary.Add(report)

	return nil
}

// capture stops the instrument and reads every channel. All records carry
// the shared acquisition window.
func (c *Controller) capture(start time.Time, report *CycleReport) ([]*store.Record, error) {
	if err := c.inst.Stop(); err != nil {
		return nil, err
	}
	stop := c.now()
	report.Window = stop.Sub(start)

	startNs, stopNs := start.UnixNano(), stop.UnixNano()
	if startNs <= c.lastStart {
		// wall clock stepped back; starts key the records and stay unique
		startNs = c.lastStart + 1
	}
	if stopNs < startNs {
		stopNs = startNs
	}

	records := make([]*store.Record, 0, len(c.opts.Channels))
	for _, profile := range c.opts.Channels {
		began := c.now()
		raw, err := c.inst.ReadRaw(profile.Channel)
		if err != nil {
			return nil, err
		}
		samples, err := raw.Decode()
		if err != nil {
			return nil, err
		}
		report.Reads = append(report.Reads, ChannelDuration{Channel: profile.Channel, Duration: c.now().Sub(began)})

		records = append(records, &store.Record{
			Channel:          profile.Channel,
			AcquisitionStart: startNs,
			AcquisitionStop:  stopNs,
			SamplingRate:     profile.SamplingRate,
			TimeResolution:   profile.TimeResolution,
			Samples:          samples,
		})
	}

	return records, nil
}

// rearm restarts the instrument. A failure leaves the controller idle so the
// next iteration retries the arm.
func (c *Controller) rearm(report *CycleReport) {
	began := c.now()
	err := c.inst.Run()
	report.Rearm = c.now().Sub(began)
	if err != nil {
		c.warn(err, "Failed to re-arm instrument")
		c.state = StateIdle
		return
	}
	c.state = StateArmedWaiting
}

func (c *Controller) finish(ctx context.Context, report *CycleReport) {
	done := c.now()
	report.finish(done.Sub(c.lastDrain))
	c.lastDrain = done

	if err := c.metrics.Record(ctx, report.snapshot()); err != nil {
		c.log.Debug().Err(err).Msg("Failed to record cycle metrics")
	}
}

func (c *Controller) shutdown() error {
	var errs []error
	if err := c.inst.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to close instrument")
		errs = append(errs, err)
	}
	if err := c.store.Close(); err != nil {
		c.log.Error().Err(err).Msg("Failed to close store")
		errs = append(errs, err)
	}
	c.summary.Log(c.log)

	if len(errs) > 0 {
		return errors.New().Wrap(errors.ErrShutdownFailed, errors.Join(errs...))
	}

	return nil
}

func (c *Controller) warn(err error, msg string) {
	c.log.Warn().Err(err).Str("code", string(errors.CodeOf(err))).Str("state", c.state.String()).Msg(msg)
}

func asError(err error) errors.Error {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	return errors.New().Wrap(errors.ErrInternal, err)
}
