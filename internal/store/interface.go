package store

import (
	"context"
	"time"
)

// Writer is the append-only side of a run store.
type Writer interface {
	// Append persists one record durably before returning.
	Append(rec *Record) error
	// Close flushes and releases the store. It is safe to call repeatedly.
	Close() error
	Path() string
}

// RunReader reads back a closed or live run store.
type RunReader interface {
	Metadata() (RunMetadata, error)
	Channels() ([]CalibrationProfile, error)
	Records(ctx context.Context, fn func(Record) error) error
	Close() error
}

// RunMetadata describes the run and the instrument that produced it. It is
// written once when the store is created.
type RunMetadata struct {
	RunID    string
	Created  time.Time
	Brand    string
	Model    string
	Serial   string
	Firmware string
	// Config is the effective configuration, serialised as YAML.
	Config []byte
}

// CalibrationProfile is the fixed per-channel calibration of a run.
type CalibrationProfile struct {
	Channel        int
	Label          string
	VerticalScale  float64
	SamplingRate   float64
	TimeScale      float64
	TimeResolution float64
}

// Record is one channel's calibrated capture of one trigger event.
// AcquisitionStart and AcquisitionStop are Unix nanoseconds.
type Record struct {
	Channel          int
	AcquisitionStart int64
	AcquisitionStop  int64
	SamplingRate     float64
	TimeResolution   float64
	Samples          []float64
}
