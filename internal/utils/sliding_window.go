package utils

import "time"

// compactAfter is the number of evicted slots tolerated before the backing
// slice is shifted down.
const compactAfter = 32

// SlidingWindow is a queue of hit times in non-decreasing order. Hits are
// appended at the tail and expire from the head, so each hit is touched at
// most twice. It is not safe for concurrent use.
type SlidingWindow struct {
	hits []time.Time
	head int
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{}
}

// Add records a hit at now, drops hits older than now-window and returns the
// number of hits left. A now earlier than the newest hit is clamped to it.
func (w *SlidingWindow) Add(now time.Time, window time.Duration) int {
	if n := len(w.hits); n > w.head && now.Before(w.hits[n-1]) {
		now = w.hits[n-1]
	}
	w.hits = append(w.hits, now)
	w.evict(now, window)
	return w.Len()
}

// Count evicts expired hits without recording a new one.
func (w *SlidingWindow) Count(now time.Time, window time.Duration) int {
	w.evict(now, window)
	return w.Len()
}

func (w *SlidingWindow) Len() int {
	return len(w.hits) - w.head
}

// Newest returns the most recent hit, if any.
func (w *SlidingWindow) Newest() (time.Time, bool) {
	if w.Len() == 0 {
		return time.Time{}, false
	}
	return w.hits[len(w.hits)-1], true
}

func (w *SlidingWindow) Reset() {
	w.hits = w.hits[:0]
	w.head = 0
}

// evict keeps hits with now-hit <= window; the boundary is inclusive.
func (w *SlidingWindow) evict(now time.Time, window time.Duration) {
	for w.head < len(w.hits) && now.Sub(w.hits[w.head]) > window {
		w.head++
	}
	switch {
	case w.head == len(w.hits):
		w.Reset()
	case w.head >= compactAfter && w.head*2 >= len(w.hits):
		n := copy(w.hits, w.hits[w.head:])
		w.hits = w.hits[:n]
		w.head = 0
	}
}
