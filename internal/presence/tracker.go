// Package presence maps user ids to online flags, scoped to the users the
// client actually cares about: the counterparts of its private conversations.
package presence

import "sync"

// Tracker is the presence lookup. Only watched users are tracked; presence
// events for anyone else are ignored. Nothing here is persisted beyond the
// session.
type Tracker struct {
	mu      sync.RWMutex
	watched map[string]bool // user id -> online
}

func NewTracker() *Tracker {
	return &Tracker{watched: make(map[string]bool)}
}

// Watch registers interest in a user, starting them as offline until an
// event says otherwise. Watching an already-watched user keeps their state.
func (t *Tracker) Watch(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.watched[userID]; !ok {
		t.watched[userID] = false
	}
}

// Unwatch drops a user from the tracker.
func (t *Tracker) Unwatch(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.watched, userID)
}

// Apply records a presence change for a watched user. Returns whether the
// event was applied.
func (t *Tracker) Apply(userID string, online bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.watched[userID]; !ok {
		return false
	}
	t.watched[userID] = online
	return true
}

// Online reports whether a watched user is currently online. Unwatched users
// read as offline.
func (t *Tracker) Online(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.watched[userID]
}

// Snapshot returns a copy of the current presence map.
func (t *Tracker) Snapshot() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]bool, len(t.watched))
	for id, online := range t.watched {
		out[id] = online
	}
	return out
}
