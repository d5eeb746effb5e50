// Package tracker owns the per-user message windows.
package tracker

import (
	"strings"
	"sync"
	"time"

	"spamguard/internal/utils"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxWindows bounds memory when the caller passes a non-positive size.
const DefaultMaxWindows = 100000

// Tracker maps (guild, user) to a sliding window of message times. When more
// than maxWindows users are tracked the least recently active window is
// dropped; its user simply starts counting from zero again.
type Tracker struct {
	mu      sync.Mutex
	windows *lru.Cache[string, *utils.SlidingWindow]
}

func New(maxWindows int) *Tracker {
	if maxWindows <= 0 {
		maxWindows = DefaultMaxWindows
	}
	windows, _ := lru.New[string, *utils.SlidingWindow](maxWindows)
	return &Tracker{windows: windows}
}

// Record appends now to the user's window, evicts entries older than
// now-window and returns what is left.
func (t *Tracker) Record(guildID, userID string, now time.Time, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := windowKey(guildID, userID)
	w, ok := t.windows.Get(key)
	if !ok {
		w = utils.NewSlidingWindow()
		t.windows.Add(key, w)
	}
	return w.Add(now, window)
}

// Count reports the window length after eviction without recording a message.
func (t *Tracker) Count(guildID, userID string, now time.Time, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows.Peek(windowKey(guildID, userID))
	if !ok {
		return 0
	}
	return w.Count(now, window)
}

// Reset clears the user's window entirely.
func (t *Tracker) Reset(guildID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windows.Remove(windowKey(guildID, userID))
}

// DropGuild removes every window belonging to guildID and returns how many
// were removed.
func (t *Tracker) DropGuild(guildID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	prefix := guildID + ":"
	removed := 0
	for _, key := range t.windows.Keys() {
		if strings.HasPrefix(key, prefix) && t.windows.Remove(key) {
			removed++
		}
	}
	return removed
}

func (t *Tracker) Len() int {
	return t.windows.Len()
}

// Has reports whether a window exists for the user.
func (t *Tracker) Has(guildID, userID string) bool {
	return t.windows.Contains(windowKey(guildID, userID))
}

func windowKey(guildID, userID string) string {
	return guildID + ":" + userID
}
