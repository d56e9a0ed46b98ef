package telemetry

import (
	"context"

	"codeberg.org/mutker/heartbeat/internal/snapshot"
)

// Exporter publishes the latest snapshot. It satisfies snapshot.Sink.
type Exporter interface {
	Record(ctx context.Context, snap *snapshot.Snapshot) error
	Close() error
}
