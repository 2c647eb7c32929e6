package work

import (
	"strings"
	"sync"
	"time"
)

// CompletionTracker records when each (type, subject) last completed.
type CompletionTracker struct {
	completions map[string]time.Time
	now         func() time.Time
	mu          sync.RWMutex
}

// NewCompletionTracker creates an empty tracker.
func NewCompletionTracker() *CompletionTracker {
	return &CompletionTracker{
		completions: make(map[string]time.Time),
		now:         time.Now,
	}
}

// MarkCompleted records a completion now.
func (t *CompletionTracker) MarkCompleted(item *WorkItem) {
	t.MarkCompletedAt(item.TypeID, item.Subject, t.now())
}

// MarkCompletedAt records a completion at a given time.
func (t *CompletionTracker) MarkCompletedAt(typeID, subject string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completions[makeKey(typeID, subject)] = at
}

// GetCompletion returns when a (type, subject) last completed.
func (t *CompletionTracker) GetCompletion(typeID, subject string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.completions[makeKey(typeID, subject)]
	return at, ok
}

// IsStale reports whether work is due again: it never completed, it has no
// interval, or the interval has passed.
func (t *CompletionTracker) IsStale(typeID, subject string, interval time.Duration) bool {
	if interval == 0 {
		return true
	}
	at, ok := t.GetCompletion(typeID, subject)
	if !ok {
		return true
	}
	return t.now().Sub(at) > interval
}

// Clear forgets one (type, subject) completion.
func (t *CompletionTracker) Clear(typeID, subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.completions, makeKey(typeID, subject))
}

// ClearByTypeID forgets every completion of a work type.
func (t *CompletionTracker) ClearByTypeID(typeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.completions {
		if key == typeID || strings.HasPrefix(key, typeID+":") {
			delete(t.completions, key)
		}
	}
}
