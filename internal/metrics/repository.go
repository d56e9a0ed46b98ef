package metrics

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/logger"
	"codeberg.org/mutker/heartbeat/internal/snapshot"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []Row
	closed        bool
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	// Open database with specific pragmas for better performance and safety
	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	// Validate if schema is current, with backup if needed
	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Metrics repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]Row, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	// Periodic flushing so a slow tick rate does not hold rows indefinitely
	if cfg.BatchSize > 1 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(snap *snapshot.Snapshot) error {
	row, err := rowFrom(snap)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().New(ErrStorageClosed)
	}

	r.buffer = append(r.buffer, row)
	r.trimBuffer()

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// bufferLimit bounds the rows held while the database keeps failing.
func (r *repository) bufferLimit() int {
	return r.cfg.BatchSize * maxBufferedBatches
}

// trimBuffer drops the oldest rows past bufferLimit. Callers hold r.mu.
func (r *repository) trimBuffer() {
	excess := len(r.buffer) - r.bufferLimit()
	if excess <= 0 {
		return
	}

	r.buffer = append(r.buffer[:0], r.buffer[excess:]...)
	r.logger.Warn().
		Int("dropped", excess).
		Int("buffered", len(r.buffer)).
		Msg("Snapshot buffer full, dropping oldest rows")
}

// Recent returns up to limit stored rows, newest first. Buffered rows are
// flushed first so they are visible.
func (r *repository) Recent(limit int) ([]Row, error) {
	errFactory := errors.New()

	r.mu.Lock()
	if err := r.flush(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	rows, err := r.db.Query(selectRecentSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row      Row
			ts       int64
			spike    int
			leak     int
			memUsed  int64
			swapUsed int64
			payload  string
		)
		if err := rows.Scan(
			&ts, &row.Hostname,
			&row.CPUUsagePercent, &memUsed, &row.MemoryUsagePercent, &swapUsed,
			&row.LoadOne, &row.ProcessCount,
			&spike, &leak,
			&payload,
		); err != nil {
			return nil, errFactory.Wrap(ErrTransactionFailed, err)
		}

		row.Timestamp = time.Unix(ts, 0)
		row.MemoryUsedMB = uint64(memUsed)
		row.SwapUsedMB = uint64(swapUsed)
		row.CPUSpikeDetected = spike == 1
		row.MemoryLeakSuspected = leak == 1
		row.Payload = []byte(payload)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrTransactionFailed, err)
	}

	return out, nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	// Signal the flusher goroutine to stop and wait for its final flush
	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	<-r.flushDoneChan

	r.mu.Lock()
	err := r.flush()
	r.mu.Unlock()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to flush buffered snapshots on close")
	}

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Metrics repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Debug().Err(err).Msg("Periodic flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes the buffer in one transaction. Callers hold r.mu. On failure
// the buffer is kept so the next flush retries it.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertSnapshotSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, row := range r.buffer {
		values := []interface{}{
			row.Timestamp.Unix(),
			row.Hostname,
			row.CPUUsagePercent,
			int64(row.MemoryUsedMB),
			row.MemoryUsagePercent,
			int64(row.SwapUsedMB),
			row.LoadOne,
			int64(row.ProcessCount),
			int64(boolToInt(row.CPUSpikeDetected)),
			int64(boolToInt(row.MemoryLeakSuspected)),
			string(row.Payload),
		}

		if _, err := stmt.Exec(values...); err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed snapshots to database")
	r.buffer = r.buffer[:0]

	return nil
}

func rowFrom(snap *snapshot.Snapshot) (Row, error) {
	if snap == nil {
		return Row{}, errors.New().New(ErrInvalidMetrics)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return Row{}, errors.New().Wrap(ErrEncodePayload, err)
	}

	return Row{
		Timestamp:           time.Unix(int64(snap.Timestamp), 0),
		Hostname:            snap.OSInfo.Hostname,
		CPUUsagePercent:     snap.CPUUsagePercent,
		MemoryUsedMB:        snap.MemoryUsedMB,
		MemoryUsagePercent:  snap.MemoryUsagePercent,
		SwapUsedMB:          snap.SwapUsedMB,
		LoadOne:             snap.LoadAverage.One,
		ProcessCount:        snap.ProcessCount,
		CPUSpikeDetected:    snap.CPUSpikeDetected,
		MemoryLeakSuspected: snap.MemoryLeakSuspected,
		Payload:             payload,
	}, nil
}
