package acquisition

import (
	"codeberg.org/mutker/dsostream/internal/instrument"
	"codeberg.org/mutker/dsostream/internal/store"
)

// Instrument is the part of the oscilloscope the polling loop drives.
type Instrument interface {
	Run() error
	Stop() error
	ForceTrigger() error
	TriggerStatus() (instrument.Status, error)
	ReadRaw(channel int) (instrument.RawCapture, error)
	Close() error
}

// Store receives the calibrated records of each trigger event.
type Store interface {
	Append(rec *store.Record) error
	Close() error
}

// State is the position of the controller in the acquisition cycle.
type State int

const (
	StateIdle State = iota
	StateArmedWaiting
	StateCaptureReady
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmedWaiting:
		return "armed_waiting"
	case StateCaptureReady:
		return "capture_ready"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}
