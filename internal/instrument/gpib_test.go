package instrument

import (
	"bytes"
	"testing"

	"github.com/gotmc/prologix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// adapterPort stands in for the Prologix serial link. It records what the
// controller writes and never answers.
type adapterPort struct {
	serial.Port
	written bytes.Buffer
	resets  int
}

func (p *adapterPort) Write(b []byte) (int, error) { return p.written.Write(b) }

func (p *adapterPort) Read([]byte) (int, error) { return 0, nil }

func (p *adapterPort) ResetInputBuffer() error {
	p.resets++
	return nil
}

func (p *adapterPort) Close() error { return nil }

func newAdapter(t *testing.T) (*gpibTransport, *adapterPort) {
	t.Helper()
	fake := &adapterPort{}
	port := &serialPort{Port: fake}

	ctrl, err := prologix.NewController(port, 7, false)
	require.NoError(t, err)
	fake.written.Reset()

	return &gpibTransport{port: port, ctrl: ctrl}, fake
}

func TestGPIBCommandIsSentVerbatim(t *testing.T) {
	tr, fake := newAdapter(t)

	require.NoError(t, tr.Command(":TRIGger:EDGE:LEVel 5.00E-01 %d"))
	assert.Contains(t, fake.written.String(), ":TRIGger:EDGE:LEVel 5.00E-01 %d")
	assert.NotContains(t, fake.written.String(), "%!")
}

func TestGPIBResyncsAfterFailedQuery(t *testing.T) {
	tr, fake := newAdapter(t)

	_, err := tr.Query(":TRIGger:STATus?")
	require.Error(t, err)
	assert.Zero(t, fake.resets)

	require.NoError(t, tr.Command(":RUN"))
	assert.Equal(t, 1, fake.resets)

	require.NoError(t, tr.Command(":STOP"))
	assert.Equal(t, 1, fake.resets, "a clean link is not flushed")
}

func TestGPIBRejectsBlocks(t *testing.T) {
	tr, _ := newAdapter(t)

	_, err := tr.QueryBlock(":WAV:DATA?")
	assert.ErrorIs(t, err, errBinaryOverGPIB)
}
