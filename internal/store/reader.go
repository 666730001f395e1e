package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"codeberg.org/mutker/dsostream/internal/errors"
)

type reader struct {
	db   *sql.DB
	path string
}

// Open opens an existing run store read-only.
func Open(path string) (RunReader, error) {
	errFactory := errors.New()

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, errFactory.WithData(ErrUnavailable, phaseError{Phase: "open_database", Path: path, Error: err.Error()})
	}

	version, err := GetSchemaVersion(db)
	if err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrUnavailable, err)
	}
	if version != SchemaVersion {
		db.Close()
		return nil, errFactory.WithData(ErrUnavailable, phaseError{
			Phase: "schema_version",
			Path:  path,
			Error: "unsupported schema version " + strconv.Itoa(version),
		})
	}

	return &reader{db: db, path: path}, nil
}

func (r *reader) Metadata() (RunMetadata, error) {
	errFactory := errors.New()

	rows, err := r.db.Query(selectRunSQL)
	if err != nil {
		return RunMetadata{}, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var meta RunMetadata
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return RunMetadata{}, errFactory.Wrap(ErrQueryFailed, err)
		}

		switch key {
		case keyCreated:
			created, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return RunMetadata{}, errFactory.Wrap(ErrQueryFailed, err)
			}
			meta.Created = created
		case keyRunID:
			meta.RunID = value
		case keyBrand:
			meta.Brand = value
		case keyModel:
			meta.Model = value
		case keySerial:
			meta.Serial = value
		case keyFirmware:
			meta.Firmware = value
		case keyConfig:
			meta.Config = []byte(value)
		}
	}
	if err := rows.Err(); err != nil {
		return RunMetadata{}, errFactory.Wrap(ErrQueryFailed, err)
	}

	return meta, nil
}

func (r *reader) Channels() ([]CalibrationProfile, error) {
	errFactory := errors.New()

	rows, err := r.db.Query(selectChannelsSQL)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var profiles []CalibrationProfile
	for rows.Next() {
		var p CalibrationProfile
		if err := rows.Scan(&p.Channel, &p.Label, &p.VerticalScale, &p.SamplingRate, &p.TimeScale, &p.TimeResolution); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	return profiles, nil
}

// Records calls fn for every record in (channel, acquisition_start) order.
// Iteration stops at the first error returned by fn.
func (r *reader) Records(ctx context.Context, fn func(Record) error) error {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, selectRecordsSQL)
	if err != nil {
		return errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec   Record
			count int
			blob  []byte
		)
		if err := rows.Scan(
			&rec.Channel, &rec.AcquisitionStart, &rec.AcquisitionStop,
			&rec.TimeResolution, &rec.SamplingRate, &count, &blob,
		); err != nil {
			return errFactory.Wrap(ErrQueryFailed, err)
		}

		rec.Samples, err = decodeSamples(blob)
		if err != nil {
			return errFactory.Wrap(ErrQueryFailed, err)
		}
		if len(rec.Samples) != count {
			return errFactory.WithData(ErrQueryFailed, phaseError{Phase: "decode_samples", Path: r.path, Error: "sample count mismatch"})
		}

		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errFactory.Wrap(ErrQueryFailed, err)
	}

	return ctx.Err()
}

func (r *reader) Close() error {
	return r.db.Close()
}
