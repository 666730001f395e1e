package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/dsostream/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/run", "dsostream-DSO1000_tcp_10.0.0.5_5555.pid"), Path("/run", "DSO1000/tcp:10.0.0.5:5555"))
}

func TestWriteAndRemove(t *testing.T) {
	dir := t.TempDir()

	f, err := Write(dir, "SIM")
	require.NoError(t, err)

	data, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, f.Remove())
	assert.NoFileExists(t, f.Path())
	require.NoError(t, f.Remove())
}

func TestWriteRefusesLiveOwner(t *testing.T) {
	dir := t.TempDir()

	f, err := Write(dir, "DSO1000/usbtmc:/dev/usbtmc0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Remove() })

	_, err = Write(dir, "DSO1000/usbtmc:/dev/usbtmc0")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
	assert.Equal(t, 3, errors.ExitCode(err))

	other, err := Write(dir, "DSO1000/usbtmc:/dev/usbtmc1")
	require.NoError(t, err)
	require.NoError(t, other.Remove())
}

func TestWriteTakesOverStaleFile(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "SIM")

	for _, content := range []string{"0", "not a pid", ""} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		f, err := Write(dir, "SIM")
		require.NoError(t, err, content)
		require.NoError(t, f.Remove())
	}
}
