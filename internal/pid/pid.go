// Package pid guards an instrument against a second acquisition process.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/dsostream/internal/errors"
)

const prefix = "dsostream-"

// File is a PID file held for one instrument resource.
type File struct {
	path string
}

// Path returns the PID file name for resource inside dir.
func Path(dir, resource string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, resource)

	return filepath.Join(dir, prefix+name+".pid")
}

// Write records the current process ID for resource. It fails with
// ErrAlreadyRunning while another live process holds the same resource; a
// file left by a dead process is taken over. An empty dir means the system
// temp directory.
func Write(dir, resource string) (*File, error) {
	errFactory := errors.New()
	if dir == "" {
		dir = os.TempDir()
	}
	path := Path(dir, resource)

	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && alive(pid) {
			return nil, errFactory.WithData(errors.ErrAlreadyRunning, resource).
				WithMessage("Instrument is in use by process " + strconv.Itoa(pid))
		}
	} else if !os.IsNotExist(err) {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}

	return &File{path: path}, nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

func (f *File) Path() string {
	return f.path
}

// Remove deletes the PID file. Removing twice is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}
