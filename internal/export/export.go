// Package export converts a run store into a Parquet file.
package export

import (
	"context"
	"io"
	"os"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/logger"
	"codeberg.org/mutker/dsostream/internal/store"
	"github.com/parquet-go/parquet-go"
)

const batchSize = 256

// RecordRow is one stored record in Parquet form.
type RecordRow struct {
	Channel          int32     `parquet:"channel"`
	Label            string    `parquet:"label,zstd,dict"`
	AcquisitionStart int64     `parquet:"acquisition_start"`
	AcquisitionStop  int64     `parquet:"acquisition_stop"`
	TimeResolution   float64   `parquet:"time_resolution"`
	SamplingRate     float64   `parquet:"sampling_rate"`
	Samples          []float64 `parquet:"samples,zstd"`
}

// Result describes a finished export.
type Result struct {
	Path string
	Rows int64
}

// Export writes every record of the run store at runPath to outPath.
// A partially written output file is removed on failure.
func Export(ctx context.Context, runPath, outPath string, log logger.Logger) (*Result, error) {
	errFactory := errors.New()

	run, err := store.Open(runPath)
	if err != nil {
		return nil, err
	}
	defer run.Close()

	profiles, err := run.Channels()
	if err != nil {
		return nil, err
	}
	labels := make(map[int]string, len(profiles))
	for _, p := range profiles {
		labels[p.Channel] = p.Label
	}

	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrExport, err).WithMessage("Failed to create export file")
	}

	result := &Result{Path: outPath}
	if err := write(ctx, run, f, labels, result); err != nil {
		f.Close()
		os.Remove(outPath)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(outPath)
		return nil, errFactory.Wrap(errors.ErrExport, err)
	}

	log.Info().Str("run", runPath).Str("path", outPath).Int64("rows", result.Rows).Msg("Run exported")

	return result, nil
}

func write(ctx context.Context, run store.RunReader, w io.Writer, labels map[int]string, result *Result) error {
	errFactory := errors.New()
	writer := parquet.NewGenericWriter[RecordRow](w, parquet.Compression(&parquet.Zstd))

	batch := make([]RecordRow, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := writer.Write(batch)
		result.Rows += int64(n)
		batch = batch[:0]
		if err != nil {
			return errFactory.Wrap(errors.ErrExport, err).WithMessage("Failed to write rows")
		}
		return nil
	}

	err := run.Records(ctx, func(rec store.Record) error {
		batch = append(batch, RecordRow{
			Channel:          int32(rec.Channel),
			Label:            labels[rec.Channel],
			AcquisitionStart: rec.AcquisitionStart,
			AcquisitionStop:  rec.AcquisitionStop,
			TimeResolution:   rec.TimeResolution,
			SamplingRate:     rec.SamplingRate,
			Samples:          rec.Samples,
		})
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	if err := writer.Close(); err != nil {
		return errFactory.Wrap(errors.ErrExport, err).WithMessage("Failed to finalise export file")
	}

	return nil
}

// ReadAll reads every row of an exported file.
func ReadAll(path string) ([]RecordRow, error) {
	errFactory := errors.New()

	f, err := os.Open(path)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrExport, err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[RecordRow](f)
	defer reader.Close()

	rows := make([]RecordRow, reader.NumRows())
	n, err := reader.Read(rows)
	// io.EOF accompanies the last batch
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errFactory.Wrap(errors.ErrExport, err)
	}

	return rows[:n], nil
}
