// Package instrument provides the oscilloscope drivers and the links that
// carry SCPI to them.
package instrument

import (
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/waveform"
)

// Driver names accepted by Open.
const (
	DriverDSO3000   = "DSO3000"
	DriverDSO1000   = "DSO1000"
	DriverSimulator = "SIM"
)

// Transport types accepted by Open.
const (
	TransportTCP    = "tcp"
	TransportUSBTMC = "usbtmc"
	TransportSerial = "serial"
	TransportGPIB   = "gpib"
)

// Options selects and reaches an instrument.
type Options struct {
	Driver        string
	Format        waveform.Format
	TransportType string
	Address       string
	BaudRate      int
	GPIBAddress   int
	Timeout       time.Duration
}

// Resource identifies the physical instrument, for exclusive ownership.
func (o Options) Resource() string {
	if strings.EqualFold(o.Driver, DriverSimulator) {
		return DriverSimulator
	}
	if strings.EqualFold(o.TransportType, TransportGPIB) {
		return o.TransportType + ":" + o.Address + ":" + strconv.Itoa(o.GPIBAddress)
	}

	return o.TransportType + ":" + o.Address
}

// Dialer opens a link. Tests replace it to script an instrument.
type Dialer func(o Options) (Transport, error)

// Open connects to the instrument named by o.
func Open(o Options) (Instrument, error) {
	return OpenWith(o, Dial)
}

// OpenWith connects using dial for the link.
func OpenWith(o Options, dial Dialer) (Instrument, error) {
	switch strings.ToUpper(o.Driver) {
	case DriverSimulator:
		return NewSimulator(), nil
	case DriverDSO3000, DriverDSO1000:
		t, err := dial(o)
		if err != nil {
			return nil, err
		}
		return newSCPI(t, o.Format), nil
	default:
		return nil, errFactory.WithData(errors.ErrConfiguration, o.Driver).WithMessage("Unknown driver")
	}
}

// Dial opens the link named by o.TransportType.
func Dial(o Options) (Transport, error) {
	switch strings.ToLower(o.TransportType) {
	case TransportTCP:
		return dialTCP(o.Address, o.Timeout)
	case TransportUSBTMC:
		return openUSBTMC(o.Address)
	case TransportSerial:
		return openSerial(o.Address, o.BaudRate, o.Timeout)
	case TransportGPIB:
		if o.Format != waveform.FormatHex {
			return nil, errFactory.WithData(errors.ErrConfiguration, o.TransportType).WithMessage("GPIB transport only carries hex waveforms")
		}
		return openGPIB(o.Address, o.BaudRate, o.GPIBAddress, o.Timeout)
	default:
		return nil, errFactory.WithData(errors.ErrConfiguration, o.TransportType).WithMessage("Unknown transport")
	}
}

// DefaultFormat is the waveform encoding a driver family answers with.
func DefaultFormat(driver string) waveform.Format {
	if strings.EqualFold(driver, DriverDSO3000) {
		return waveform.FormatHex
	}

	return waveform.FormatBinary
}
