// Package history keeps the bounded sample windows that anomaly baselines
// are computed from.
package history

// Reader is the read side of a Window, which is all detection needs.
type Reader interface {
	Len() int
	Mean() float64
}

// Window is a bounded FIFO of samples in chronological order. It is not safe
// for concurrent use; each window belongs to the tick loop that pushes to it.
type Window struct {
	samples  []float64
	capacity int
}

// New returns an empty window holding at most capacity samples. Capacities
// below 1 are raised to 1.
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}

	return &Window{
		samples:  make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a sample, evicting the oldest one once the window is full.
func (w *Window) Push(sample float64) {
	if len(w.samples) == w.capacity {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:len(w.samples)-1]
	}

	w.samples = append(w.samples, sample)
}

// Mean returns the arithmetic mean of the window, or 0 when it is empty.
// Callers check Len first.
func (w *Window) Mean() float64 {
	if len(w.samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range w.samples {
		sum += s
	}

	return sum / float64(len(w.samples))
}

func (w *Window) Len() int {
	return len(w.samples)
}

func (w *Window) Cap() int {
	return w.capacity
}

// Values returns a copy of the samples, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.samples))
	copy(out, w.samples)

	return out
}
