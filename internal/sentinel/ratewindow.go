package sentinel

import (
	"sync"
	"time"
)

// RateWindow counts outbound API calls over a sliding window. It implements
// broker.CallRecorder so both the trading and data clients feed it. Counting
// actual timestamps instead of a per-cycle bucket means a burst near a cycle
// boundary cannot slip under the limit.
type RateWindow struct {
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	calls []time.Time
	total int64
}

func NewRateWindow(window time.Duration) *RateWindow {
	return &RateWindow{
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source for tests.
func (w *RateWindow) SetClock(now func() time.Time) { w.now = now }

// Record logs one outbound call.
func (w *RateWindow) Record(endpoint string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, w.now())
	w.total++
	w.prune()
}

// Count returns the number of calls inside the window.
func (w *RateWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	return len(w.calls)
}

// Total returns the lifetime call count.
func (w *RateWindow) Total() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// Usage returns the in-window call count as a fraction of the limit.
func (w *RateWindow) Usage(limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(w.Count()) / float64(limit)
}

// prune drops calls that fell out of the window. Caller holds the lock.
func (w *RateWindow) prune() {
	cutoff := w.now().Add(-w.window)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}
