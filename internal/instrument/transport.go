package instrument

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const terminator = "\n"

// streamTransport speaks line-terminated SCPI over a byte stream. It serves
// the raw socket, USBTMC character device and RS-232 links.
//
// A failed read or write leaves the link dirty: a late reply may still be in
// flight and would be taken as the answer to the next command. The next
// command first resyncs the link and drops everything buffered.
type streamTransport struct {
	rw    io.ReadWriteCloser
	r     *bufio.Reader
	mu    sync.Mutex
	dirty bool
	// resync returns a clean stream in place of the current one; nil only
	// drops the read buffer.
	resync func(old io.ReadWriteCloser) (io.ReadWriteCloser, error)
}

func newStreamTransport(rw io.ReadWriteCloser) *streamTransport {
	return &streamTransport{rw: rw, r: bufio.NewReader(rw)}
}

func (t *streamTransport) Command(cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return err
	}

	return t.fail(t.write(cmd))
}

func (t *streamTransport) Query(cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return "", err
	}
	if err := t.fail(t.write(cmd)); err != nil {
		return "", err
	}

	line, err := t.readLine()
	return line, t.fail(err)
}

func (t *streamTransport) QueryBlock(cmd string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return nil, err
	}
	if err := t.fail(t.write(cmd)); err != nil {
		return nil, err
	}

	data, err := readBlock(t.r)
	return data, t.fail(err)
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.rw.Close()
}

// fail marks the link dirty when err is set and passes err through.
func (t *streamTransport) fail(err error) error {
	if err != nil {
		t.dirty = true
	}

	return err
}

// ready resyncs a dirty link. It stays dirty when the resync fails.
func (t *streamTransport) ready() error {
	if !t.dirty {
		return nil
	}
	if t.resync != nil {
		rw, err := t.resync(t.rw)
		if err != nil {
			return err
		}
		t.rw = rw
	}
	t.r.Reset(t.rw)
	t.dirty = false

	return nil
}

func (t *streamTransport) write(cmd string) error {
	_, err := io.WriteString(t.rw, cmd+terminator)
	return err
}

func (t *streamTransport) readLine() (string, error) {
	line, err := t.r.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// readBlock reads an IEEE-488.2 block. "#<n><len><data>" is a definite
// length block; "#0<data>\n" runs to the end of the line. A response without
// the leading '#' is returned as the bare line.
func readBlock(r *bufio.Reader) ([]byte, error) {
	first, err := r.Peek(1)
	if err != nil {
		return nil, err
	}
	if first[0] != '#' {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		return bytes.TrimRight(line, "\r\n"), nil
	}
	if _, err := r.Discard(1); err != nil {
		return nil, err
	}

	width, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if width < '0' || width > '9' {
		return nil, fmt.Errorf("invalid block header width %q", width)
	}

	if width == '0' {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		return bytes.TrimRight(line, "\r\n"), nil
	}

	digits := make([]byte, int(width-'0'))
	if _, err := io.ReadFull(r, digits); err != nil {
		return nil, err
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, fmt.Errorf("invalid block length %q", digits)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	// consume the message terminator when the instrument sends one
	if next, err := r.Peek(1); err == nil && next[0] == '\n' {
		_, _ = r.Discard(1)
	} else if err == nil && next[0] == '\r' {
		if pair, err := r.Peek(2); err == nil && pair[1] == '\n' {
			_, _ = r.Discard(2)
		}
	}

	return data, nil
}

// deadlineConn arms a fresh deadline before every read and write.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

func dialTCP(address string, timeout time.Duration) (Transport, error) {
	conn, err := dialConn(address, timeout)
	if err != nil {
		return nil, unavailable(address, err)
	}

	t := newStreamTransport(conn)
	// a late reply dies with the old connection
	t.resync = func(old io.ReadWriteCloser) (io.ReadWriteCloser, error) {
		_ = old.Close()
		return dialConn(address, timeout)
	}

	return t, nil
}

func dialConn(address string, timeout time.Duration) (*deadlineConn, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}

	return &deadlineConn{Conn: conn, timeout: timeout}, nil
}

func openUSBTMC(path string) (Transport, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, unavailable(path, err)
	}

	return newStreamTransport(f), nil
}

// serialPort turns the port's silent read timeout into an error so that a
// mute instrument fails the command instead of stalling the reader.
type serialPort struct {
	serial.Port
}

var errReadTimeout = errors.New("serial read timeout")

func (p *serialPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil {
		return 0, errReadTimeout
	}
	return n, err
}

func openSerialPort(path string, baud int, timeout time.Duration) (*serialPort, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, unavailable(path, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, unavailable(path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, unavailable(path, err)
	}

	return &serialPort{Port: port}, nil
}

func openSerial(path string, baud int, timeout time.Duration) (Transport, error) {
	port, err := openSerialPort(path, baud, timeout)
	if err != nil {
		return nil, err
	}

	t := newStreamTransport(port)
	t.resync = func(old io.ReadWriteCloser) (io.ReadWriteCloser, error) {
		return old, port.ResetInputBuffer()
	}

	return t, nil
}
