package metrics

import (
	"context"
	"time"

	"codeberg.org/mutker/heartbeat/internal/snapshot"
)

// Recorder persists snapshots. It satisfies snapshot.Sink.
type Recorder interface {
	Record(ctx context.Context, snap *snapshot.Snapshot) error
	Close() error
}

// Repository defines the interface for snapshot storage
type Repository interface {
	Record(snap *snapshot.Snapshot) error
	Recent(limit int) ([]Row, error)
	Close() error
}

// Row is the indexed part of a stored snapshot. Payload holds the full
// JSON document as emitted on stdout.
type Row struct {
	Timestamp           time.Time
	Hostname            string
	CPUUsagePercent     float64
	MemoryUsedMB        uint64
	MemoryUsagePercent  float64
	SwapUsedMB          uint64
	LoadOne             float64
	ProcessCount        int
	CPUSpikeDetected    bool
	MemoryLeakSuspected bool
	Payload             []byte
}
