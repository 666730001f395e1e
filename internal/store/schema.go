package store

import (
	"database/sql"
	"strconv"
	"time"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS run (
	       key   TEXT PRIMARY KEY,
	       value TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS channels (
	       channel         INTEGER PRIMARY KEY CHECK (typeof(channel) = 'integer'),
	       label           TEXT NOT NULL,
	       v_scale         REAL NOT NULL,
	       sampling_rate   REAL NOT NULL,
	       time_scale      REAL NOT NULL,
	       time_resolution REAL NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS records (
	       channel           INTEGER NOT NULL REFERENCES channels (channel),
	       acquisition_start INTEGER NOT NULL CHECK (typeof(acquisition_start) = 'integer'),
	       acquisition_stop  INTEGER NOT NULL CHECK (acquisition_stop >= acquisition_start),
	       time_resolution   REAL NOT NULL,
	       sampling_rate     REAL NOT NULL,
	       sample_count      INTEGER NOT NULL CHECK (sample_count * 8 = length(samples)),
	       samples           BLOB NOT NULL,
	       PRIMARY KEY (channel, acquisition_start)
	   );
	   CREATE TRIGGER IF NOT EXISTS records_no_update BEFORE UPDATE ON records
	   BEGIN SELECT RAISE(ABORT, 'records are append-only'); END;
	   CREATE TRIGGER IF NOT EXISTS records_no_delete BEFORE DELETE ON records
	   BEGIN SELECT RAISE(ABORT, 'records are append-only'); END;
	   CREATE TRIGGER IF NOT EXISTS run_no_update BEFORE UPDATE ON run
	   BEGIN SELECT RAISE(ABORT, 'run metadata is immutable'); END;
	   CREATE TRIGGER IF NOT EXISTS channels_no_update BEFORE UPDATE ON channels
	   BEGIN SELECT RAISE(ABORT, 'channel calibration is immutable'); END;`

	insertRunSQL = `INSERT INTO run (key, value) VALUES (?, ?)`

	insertChannelSQL = `
    INSERT INTO channels (
        channel, label, v_scale, sampling_rate, time_scale, time_resolution
    ) VALUES (?, ?, ?, ?, ?, ?)`

	insertRecordSQL = `
    INSERT INTO records (
        channel, acquisition_start, acquisition_stop,
        time_resolution, sampling_rate, sample_count, samples
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectRunSQL      = `SELECT key, value FROM run`
	selectChannelsSQL = `
    SELECT channel, label, v_scale, sampling_rate, time_scale, time_resolution
    FROM channels
    ORDER BY channel`
	selectRecordsSQL = `
    SELECT channel, acquisition_start, acquisition_stop,
           time_resolution, sampling_rate, sample_count, samples
    FROM records
    ORDER BY channel, acquisition_start`
)

// Run metadata keys
const (
	keyCreated   = "created"
	keyTimestamp = "timestamp"
	keyRunID     = "run_id"
	keyBrand     = "brand"
	keyModel     = "model"
	keySerial    = "serial"
	keyFirmware  = "firmware"
	keyConfig    = "config"
)

// InitSchema creates the schema and writes the run metadata and channel
// calibration in one transaction.
func InitSchema(db *sql.DB, meta RunMetadata, profiles []CalibrationProfile, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating run store schema...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, phaseError{Phase: "create_tables", Error: err.Error()})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, phaseError{Phase: "record_version", Error: err.Error()})
	}

	for _, attr := range runAttributes(meta) {
		if _, err := tx.Exec(insertRunSQL, attr.key, attr.value); err != nil {
			return errFactory.WithData(ErrSchemaInitFailed, phaseError{Phase: "run_metadata", Error: err.Error()})
		}
	}

	for _, p := range profiles {
		if _, err := tx.Exec(insertChannelSQL,
			p.Channel, p.Label, p.VerticalScale, p.SamplingRate, p.TimeScale, p.TimeResolution,
		); err != nil {
			return errFactory.WithData(ErrSchemaInitFailed, phaseError{Phase: "channel_metadata", Error: err.Error()})
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Debug().
		Int("version", SchemaVersion).
		Int("channels", len(profiles)).
		Msg("Run store schema initialized")

	return nil
}

type attribute struct {
	key, value string
}

func runAttributes(meta RunMetadata) []attribute {
	return []attribute{
		{keyCreated, meta.Created.UTC().Format(time.RFC3339Nano)},
		{keyTimestamp, strconv.FormatInt(meta.Created.UnixNano(), 10)},
		{keyRunID, meta.RunID},
		{keyBrand, meta.Brand},
		{keyModel, meta.Model},
		{keySerial, meta.Serial},
		{keyFirmware, meta.Firmware},
		{keyConfig, string(meta.Config)},
	}
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, phaseError{Phase: "get_version", Error: err.Error()})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, phaseError{Phase: "check_table_exists", Path: tableName, Error: err.Error()})
	}

	return exists, nil
}
