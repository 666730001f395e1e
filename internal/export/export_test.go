package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/logger"
	"codeberg.org/mutker/dsostream/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRun(t *testing.T, records ...*store.Record) string {
	t.Helper()

	w, err := store.Create(t.TempDir(), store.RunMetadata{RunID: "export", Created: time.Now()}, []store.CalibrationProfile{
		{Channel: 1, Label: "clock", VerticalScale: 1, SamplingRate: 1e9, TimeScale: 1e-6, TimeResolution: 1e-9},
		{Channel: 3, Label: "data", VerticalScale: 2, SamplingRate: 1e9, TimeScale: 1e-6, TimeResolution: 1e-9},
	}, logger.Nop())
	require.NoError(t, err)

	for _, rec := range records {
		require.NoError(t, w.Append(rec))
	}
	require.NoError(t, w.Close())

	return w.Path()
}

func record(ch int, start int64, samples ...float64) *store.Record {
	return &store.Record{
		Channel:          ch,
		AcquisitionStart: start,
		AcquisitionStop:  start + 500,
		SamplingRate:     1e9,
		TimeResolution:   1e-9,
		Samples:          samples,
	}
}

func TestExportRoundTrip(t *testing.T) {
	run := writeRun(t,
		record(1, 1000, 0.1, 0.2, 0.3),
		record(3, 1000, -1, -2, -3),
		record(1, 2000, 0.4, 0.5, 0.6),
		record(3, 2000, -4, -5, -6),
	)
	out := filepath.Join(t.TempDir(), "run.parquet")

	result, err := Export(context.Background(), run, out, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Rows)

	rows, err := ReadAll(out)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, RecordRow{
		Channel:          1,
		Label:            "clock",
		AcquisitionStart: 1000,
		AcquisitionStop:  1500,
		TimeResolution:   1e-9,
		SamplingRate:     1e9,
		Samples:          []float64{0.1, 0.2, 0.3},
	}, rows[0])
	assert.Equal(t, int64(2000), rows[1].AcquisitionStart)
	assert.Equal(t, "data", rows[2].Label)
	assert.Equal(t, []float64{-4, -5, -6}, rows[3].Samples)
}

func TestExportManyBatches(t *testing.T) {
	records := make([]*store.Record, 0, batchSize+10)
	for i := 0; i < batchSize+10; i++ {
		records = append(records, record(1, int64(i+1)*1000, float64(i)))
	}
	run := writeRun(t, records...)
	out := filepath.Join(t.TempDir(), "run.parquet")

	result, err := Export(context.Background(), run, out, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(batchSize+10), result.Rows)

	rows, err := ReadAll(out)
	require.NoError(t, err)
	require.Len(t, rows, batchSize+10)
	assert.Equal(t, []float64{float64(batchSize + 9)}, rows[batchSize+9].Samples)
}

func TestExportEmptyRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "empty.parquet")

	result, err := Export(context.Background(), writeRun(t), out, logger.Nop())
	require.NoError(t, err)
	assert.Zero(t, result.Rows)

	rows, err := ReadAll(out)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExportRefusesExistingOutput(t *testing.T) {
	run := writeRun(t, record(1, 1000, 1))
	out := filepath.Join(t.TempDir(), "run.parquet")
	require.NoError(t, os.WriteFile(out, []byte("keep"), 0o644))

	_, err := Export(context.Background(), run, out, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrExport))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestExportCancelled(t *testing.T) {
	run := writeRun(t, record(1, 1000, 1), record(1, 2000, 2))
	out := filepath.Join(t.TempDir(), "run.parquet")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Export(ctx, run, out, logger.Nop())
	require.Error(t, err)
	assert.NoFileExists(t, out)
}

func TestExportMissingRun(t *testing.T) {
	_, err := Export(context.Background(), filepath.Join(t.TempDir(), "missing.db"), filepath.Join(t.TempDir(), "out.parquet"), logger.Nop())
	require.Error(t, err)
}
