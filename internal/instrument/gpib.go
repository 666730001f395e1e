package instrument

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/prologix"
)

// gpibTransport reaches a GPIB instrument through a Prologix USB adapter on
// a serial port. The adapter answers in text, so binary blocks are not
// carried.
type gpibTransport struct {
	port  *serialPort
	ctrl  *prologix.Controller
	mu    sync.Mutex
	dirty bool
}

var errBinaryOverGPIB = errors.New("binary blocks are not carried over the prologix adapter")

func openGPIB(path string, baud, address int, timeout time.Duration) (Transport, error) {
	port, err := openSerialPort(path, baud, timeout)
	if err != nil {
		return nil, err
	}

	ctrl, err := prologix.NewController(port, address, false)
	if err != nil {
		_ = port.Close()
		return nil, unavailable(path, err)
	}

	return &gpibTransport{port: port, ctrl: ctrl}, nil
}

func (t *gpibTransport) Command(cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return err
	}

	return t.fail(t.ctrl.Command("%s", cmd))
}

func (t *gpibTransport) Query(cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return "", err
	}
	resp, err := t.ctrl.Query(cmd)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", t.fail(err)
	}

	return strings.TrimRight(resp, "\r\n"), nil
}

func (t *gpibTransport) fail(err error) error {
	if err != nil {
		t.dirty = true
	}

	return err
}

// ready drops a late reply left in the adapter's input by a failed command.
func (t *gpibTransport) ready() error {
	if !t.dirty {
		return nil
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return err
	}
	t.dirty = false

	return nil
}

func (t *gpibTransport) QueryBlock(string) ([]byte, error) {
	return nil, errBinaryOverGPIB
}

func (t *gpibTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if err := t.ctrl.FrontPanel(true); err != nil {
		errs = append(errs, err)
	}
	if err := t.port.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
