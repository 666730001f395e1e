package instrument

import (
	"codeberg.org/mutker/dsostream/internal/waveform"
)

// Instrument is the capability set of a triggered oscilloscope. Setters that
// shape the acquisition re-read the instrument and return the value it
// actually applied.
type Instrument interface {
	Identity() (Identity, error)

	// Acquisition setup
	SetTimeScale(seconds float64) (float64, error)
	SetSamplingRate(rate float64) (float64, error)
	SetPointsMode(mode string) (string, error)
	SetPoints(n int) (int, error)
	SetChannel(cfg ChannelConfig) error
	VerticalScale(channel int) (float64, error)
	SetTrigger(cfg TriggerConfig) error
	TimeResolution() (float64, error)
	BufferSize() (int, error)

	// Acquisition control
	Run() error
	Stop() error
	Single() error
	ForceTrigger() error
	TriggerStatus() (Status, error)
	ReadRaw(channel int) (RawCapture, error)

	Close() error
}

// Transport carries SCPI messages to and from an instrument. Only one message
// may be in flight.
type Transport interface {
	Command(cmd string) error
	Query(cmd string) (string, error)
	// QueryBlock returns the body of an IEEE-488.2 definite length block, or
	// the bare response line when the instrument answers without a header.
	QueryBlock(cmd string) ([]byte, error)
	Close() error
}

// Status is the trigger state reported by the instrument.
type Status int

const (
	StatusUnknown Status = iota
	StatusWaiting
	StatusTriggered
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusTriggered:
		return "triggered"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type (
	Identity struct {
		Brand    string
		Model    string
		Serial   string
		Firmware string
	}

	ChannelConfig struct {
		Channel   int
		Scale     float64
		Coupling  string
		BWLimit   bool
		ProbeAttn int
		Invert    bool
		Display   bool
	}

	TriggerConfig struct {
		Mode     string
		Source   string
		Slope    string
		Level    float64
		Coupling string
		Sweep    string
	}

	// RawCapture is one channel's undecoded buffer together with the
	// calibration the instrument reported for it.
	RawCapture struct {
		Channel     int
		Payload     []byte
		SampleCount int
		Format      waveform.Format
		Calibration waveform.Calibration
	}
)

// Decode converts the capture to volts.
func (c RawCapture) Decode() ([]float64, error) {
	return waveform.Decode(c.Payload, c.Format, c.SampleCount, c.Calibration)
}
