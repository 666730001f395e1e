package instrument

import (
	"strconv"

	"codeberg.org/mutker/dsostream/internal/errors"
)

var errFactory = errors.New()

func commandFailed(cmd string, err error) error {
	return errFactory.Wrap(errors.ErrInstrumentCommand, err).WithData(cmd)
}

func unavailable(resource string, err error) error {
	return errFactory.Wrap(errors.ErrInstrumentUnavailable, err).WithData(resource)
}

func malformed(cmd, response string) error {
	return errFactory.WithData(errors.ErrMalformedPayload, cmd+" -> "+quote(response))
}

func quote(s string) string {
	const limit = 64
	if len(s) > limit {
		s = s[:limit] + "..."
	}

	return strconv.Quote(s)
}
