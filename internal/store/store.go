// Package store persists a run's records in an append-only SQLite file.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultFilePerm = 0o644
	fileTimeLayout  = "20060102_150405"
	fileExt         = ".db"
	maxNameAttempts = 1000

	// WAL with synchronous=FULL fsyncs on every commit.
	dsnOptions = "?_journal=WAL&_sync=FULL&_foreign_keys=1"
)

type writer struct {
	db       *sql.DB
	path     string
	logger   logger.Logger
	profiles map[int]CalibrationProfile

	mu     sync.Mutex
	closed bool
}

// Create makes a new run store in dir named after meta.Created. dir must
// already exist and be writable.
func Create(dir string, meta RunMetadata, profiles []CalibrationProfile, log logger.Logger) (Writer, error) {
	errFactory := errors.New()

	info, err := os.Stat(dir)
	if err != nil {
		return nil, errFactory.WithData(ErrUnavailable, phaseError{Phase: "stat_directory", Path: dir, Error: err.Error()})
	}
	if !info.IsDir() {
		return nil, errFactory.WithData(ErrUnavailable, phaseError{Phase: "stat_directory", Path: dir, Error: "not a directory"})
	}

	path, err := reserveFile(dir, meta.Created)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		_ = os.Remove(path)
		return nil, errFactory.WithData(ErrUnavailable, phaseError{Phase: "open_database", Path: path, Error: err.Error()})
	}
	// a single connection keeps every append on the same WAL handle
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		_ = os.Remove(path)
		return nil, errFactory.WithData(ErrUnavailable, phaseError{Phase: "open_database", Path: path, Error: err.Error()})
	}

	if err := InitSchema(db, meta, profiles, log); err != nil {
		db.Close()
		removeFiles(path)
		return nil, errFactory.Wrap(ErrUnavailable, err)
	}

	log.Info().
		Str("path", path).
		Str("run_id", meta.RunID).
		Int("channels", len(profiles)).
		Msg("Run store created")

	return newWriter(db, path, profiles, log), nil
}

func newWriter(db *sql.DB, path string, profiles []CalibrationProfile, log logger.Logger) *writer {
	byChannel := make(map[int]CalibrationProfile, len(profiles))
	for _, p := range profiles {
		byChannel[p.Channel] = p
	}

	return &writer{
		db:       db,
		path:     path,
		logger:   log,
		profiles: byChannel,
	}
}

// removeFiles deletes a store that never finished initialising, with its
// WAL sidecars.
func removeFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

// FileName returns the store file name for a run created at t.
func FileName(t time.Time) string {
	return t.Format(fileTimeLayout) + fileExt
}

// reserveFile claims the first free name for the run, adding a _<n> suffix
// when a run from the same second already exists.
func reserveFile(dir string, created time.Time) (string, error) {
	base := created.Format(fileTimeLayout)
	for i := 0; i < maxNameAttempts; i++ {
		name := base + fileExt
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", base, i, fileExt)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, defaultFilePerm)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", errors.New().WithData(ErrUnavailable, phaseError{Phase: "create_file", Path: path, Error: err.Error()})
		}
		if err := f.Close(); err != nil {
			return "", errors.New().WithData(ErrUnavailable, phaseError{Phase: "create_file", Path: path, Error: err.Error()})
		}

		return path, nil
	}

	return "", errors.New().WithData(ErrUnavailable, phaseError{Phase: "create_file", Path: dir, Error: "no free file name"})
}

func (w *writer) Path() string {
	return w.path
}

func (w *writer) Append(rec *Record) error {
	errFactory := errors.New()

	if rec == nil {
		return errFactory.Wrap(ErrWrite, errFactory.New(ErrInvalidRecord))
	}
	if _, ok := w.profiles[rec.Channel]; !ok {
		return errFactory.Wrap(ErrWrite, errFactory.WithData(ErrUnknownChannel, rec.Channel))
	}
	if rec.AcquisitionStart > rec.AcquisitionStop {
		return errFactory.Wrap(ErrWrite, errFactory.WithData(ErrInvalidRecord,
			fmt.Sprintf("acquisition_start %d after acquisition_stop %d", rec.AcquisitionStart, rec.AcquisitionStop)))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errFactory.Wrap(ErrWrite, errFactory.New(ErrStoreClosed))
	}

	tx, err := w.db.Begin()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrWrite, err)
	}

	if _, err := tx.Exec(insertRecordSQL,
		rec.Channel,
		rec.AcquisitionStart,
		rec.AcquisitionStop,
		rec.TimeResolution,
		rec.SamplingRate,
		len(rec.Samples),
		encodeSamples(rec.Samples),
	); err != nil {
		w.logger.Error().Err(err).Msg("Failed to insert record")
		if err := tx.Rollback(); err != nil {
			w.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrWrite, err)
	}

	if err := tx.Commit(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrWrite, err)
	}

	return nil
}

func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	// Checkpoint WAL so the run is a single self-contained file
	if _, err := w.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		w.db.Close()
		return errors.New().WithData(errors.ErrShutdownFailed, phaseError{Phase: "checkpoint_wal", Path: w.path, Error: err.Error()})
	}

	if err := w.db.Close(); err != nil {
		return errors.New().WithData(errors.ErrShutdownFailed, phaseError{Phase: "close_database", Path: w.path, Error: err.Error()})
	}

	w.logger.Info().Str("path", w.path).Msg("Run store closed")

	return nil
}

func encodeSamples(samples []float64) []byte {
	buf := make([]byte, 8*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}

	return buf
}

func decodeSamples(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("sample blob length %d is not a multiple of 8", len(buf))
	}
	samples := make([]float64, len(buf)/8)
	for i := range samples {
		samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}

	return samples, nil
}
