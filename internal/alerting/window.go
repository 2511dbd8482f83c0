package alerting

import (
	"sync"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// DefaultCooldown is how long an emitted alert suppresses repeats of the
// same pond, parameter and severity.
const DefaultCooldown = 15 * time.Minute

// SuppressionKey identifies one suppression slot.
type SuppressionKey struct {
	PondID    string
	Parameter models.Parameter
	Severity  models.Severity
}

// SuppressionWindow remembers the last alert time per key. A key is
// suppressed while now - last < cooldown; whether an entry exists is never
// enough on its own.
type SuppressionWindow struct {
	mu        sync.Mutex
	cooldown  time.Duration
	last      map[SuppressionKey]time.Time
	lastPrune time.Time
}

// NewSuppressionWindow creates a window with the given cooldown.
func NewSuppressionWindow(cooldown time.Duration) *SuppressionWindow {
	return &SuppressionWindow{
		cooldown: cooldown,
		last:     make(map[SuppressionKey]time.Time),
	}
}

// Allow reports whether an alert for key may be emitted at now and, if so,
// records now as the key's last alert time.
func (w *SuppressionWindow) Allow(key SuppressionKey, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)

	if last, ok := w.last[key]; ok && now.Sub(last) < w.cooldown {
		return false
	}
	w.last[key] = now
	return true
}

// Suppressed reports whether key is inside its cooldown without recording anything.
func (w *SuppressionWindow) Suppressed(key SuppressionKey, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	last, ok := w.last[key]
	return ok && now.Sub(last) < w.cooldown
}

// Len returns the number of tracked keys, expired or not.
func (w *SuppressionWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.last)
}

// Reset forgets all keys.
func (w *SuppressionWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = make(map[SuppressionKey]time.Time)
}

// pruneLocked drops expired entries at most once per cooldown period.
func (w *SuppressionWindow) pruneLocked(now time.Time) {
	if now.Sub(w.lastPrune) < w.cooldown {
		return
	}
	w.lastPrune = now
	for k, last := range w.last {
		if now.Sub(last) >= w.cooldown {
			delete(w.last, k)
		}
	}
}
