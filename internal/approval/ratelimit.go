package approval

import (
	"sync"
	"time"
)

// slidingWindow counts approvals inside a trailing time window. It keeps the
// raw timestamps so the window slides continuously rather than in buckets.
type slidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	now    func() time.Time
	stamps []time.Time
}

func newSlidingWindow(window time.Duration, max int) *slidingWindow {
	return &slidingWindow{window: window, max: max, now: time.Now}
}

// Reserve atomically claims one approval slot in the window. The check and
// the append happen under one lock hold so concurrent callers cannot all
// observe a free slot and overshoot the cap. A caller whose approval later
// fails must give the slot back with Release.
func (w *slidingWindow) Reserve() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.evict(now)
	if len(w.stamps) >= w.max {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Release returns the most recently reserved slot.
func (w *slidingWindow) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.stamps); n > 0 {
		w.stamps = w.stamps[:n-1]
	}
}

// Count returns the number of approvals currently inside the window.
func (w *slidingWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	return len(w.stamps)
}

// evict drops timestamps older than the window. Caller holds mu.
func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	keep := 0
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			w.stamps[keep] = ts
			keep++
		}
	}
	w.stamps = w.stamps[:keep]
}
