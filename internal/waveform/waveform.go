// Package waveform converts raw oscilloscope sample codes into volts.
package waveform

import (
	"encoding/hex"
	"fmt"
	"strings"

	"codeberg.org/mutker/dsostream/internal/errors"
)

// MidscaleCode is the zero-volt reference code of the supported 8-bit ADC
// family. The vendor documents 126; the hardware reads 125 at true zero.
const MidscaleCode = 125

// Format selects the transport representation of the sample codes.
type Format int

const (
	// FormatBinary carries one raw byte per sample.
	FormatBinary Format = iota
	// FormatHex carries two ASCII hex digits per sample.
	FormatHex
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatHex:
		return "hex"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat maps a configured waveform_format to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "binary", "byte":
		return FormatBinary, nil
	case "hex", "ascii":
		return FormatHex, nil
	default:
		return 0, errors.New().WithData(errors.ErrInvalidArgument, s)
	}
}

// Calibration holds the per-read vertical calibration reported by the
// instrument alongside a waveform.
type Calibration struct {
	YIncrement float64
	YOrigin    float64
}

// Volts converts one sample code.
func (c Calibration) Volts(code byte) float64 {
	return float64(MidscaleCode-int(code))*c.YIncrement - c.YOrigin
}

// Decode converts payload into count samples. Codes outside the usable ADC
// range go through the same formula.
func Decode(payload []byte, format Format, count int, cal Calibration) ([]float64, error) {
	codes, err := Codes(payload, format)
	if err != nil {
		return nil, err
	}
	if len(codes) != count {
		return nil, errors.New().WithData(errors.ErrMalformedPayload,
			fmt.Sprintf("expected %d samples, got %d", count, len(codes)))
	}

	samples := make([]float64, len(codes))
	for i, code := range codes {
		samples[i] = cal.Volts(code)
	}

	return samples, nil
}

// Codes extracts the raw sample codes from payload.
func Codes(payload []byte, format Format) ([]byte, error) {
	switch format {
	case FormatBinary:
		return payload, nil
	case FormatHex:
		return decodeHex(payload)
	default:
		return nil, errors.New().WithData(errors.ErrInvalidArgument, format.String())
	}
}

// decodeHex accepts the instrument's ASCII dump, which may carry "0x"
// prefixes and separators between the digit pairs.
func decodeHex(payload []byte) ([]byte, error) {
	s := strings.ReplaceAll(string(payload), "0x", "")
	s = strings.ReplaceAll(s, "0X", "")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', ',':
			return -1
		}
		return r
	}, s)

	codes, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrMalformedPayload, err)
	}

	return codes, nil
}
