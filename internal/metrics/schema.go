package metrics

import (
	"database/sql"

	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS snapshots (
	       timestamp             INTEGER PRIMARY KEY,
	       hostname              TEXT    NOT NULL,
	       cpu_usage_percent     REAL    NOT NULL,
	       memory_used_mb        INTEGER NOT NULL CHECK (typeof(memory_used_mb) = 'integer'),
	       memory_usage_percent  REAL    NOT NULL,
	       swap_used_mb          INTEGER NOT NULL CHECK (typeof(swap_used_mb) = 'integer'),
	       load_one              REAL    NOT NULL,
	       process_count         INTEGER NOT NULL CHECK (typeof(process_count) = 'integer'),
	       cpu_spike_detected    INTEGER NOT NULL CHECK (cpu_spike_detected IN (0, 1)),
	       memory_leak_suspected INTEGER NOT NULL CHECK (memory_leak_suspected IN (0, 1)),
	       payload               TEXT    NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_snapshots_anomalies
	       ON snapshots (cpu_spike_detected, memory_leak_suspected);`

	// Two snapshots inside the same second keep the later one.
	insertSnapshotSQL = `
    INSERT OR REPLACE INTO snapshots (
        timestamp, hostname,
        cpu_usage_percent, memory_used_mb, memory_usage_percent, swap_used_mb,
        load_one, process_count,
        cpu_spike_detected, memory_leak_suspected,
        payload
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectRecentSQL = `
    SELECT
        timestamp, hostname,
        cpu_usage_percent, memory_used_mb, memory_usage_percent, swap_used_mb,
        load_one, process_count,
        cpu_spike_detected, memory_leak_suspected,
        payload
    FROM snapshots
    ORDER BY timestamp DESC
    LIMIT ?`
)

var managedTables = []string{"snapshots", "metrics", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
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
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
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
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
