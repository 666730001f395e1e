package metrics

import (
	"net"

	"codeberg.org/mutker/dsostream/internal/errors"
)

type Config struct {
	// Addr is the listen address of the /metrics endpoint. Collection still
	// happens when it is empty; nothing is served.
	Addr    string
	Enabled bool
}

func DefaultConfig() Config {
	return Config{
		Enabled: true,
	}
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return errors.New().WithData(ErrInvalidAddr, c.Addr)
	}

	return nil
}
