// Package output emits snapshots as JSON lines.
package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/snapshot"
)

// Writer writes one JSON object per line. A snapshot that fails to encode
// writes nothing.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) Record(_ context.Context, snap *snapshot.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.New().Wrap(ErrEncodeFailed, err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.out.Write(data); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

// Close is a no-op; the destination is owned by the caller.
func (w *Writer) Close() error {
	return nil
}
