// Package conversation records which peer each user is currently viewing.
// Entries are only a routing hint; a wrong or missing entry changes the
// notification decision, never delivery.
package conversation

import "sync"

// Tracker maps each user to the one peer they are viewing. Safe for
// concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	active map[string]string
}

func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]string)}
}

// Set marks user as viewing the conversation with peer.
func (t *Tracker) Set(user, peer string) {
	if user == "" || peer == "" {
		return
	}
	t.mu.Lock()
	t.active[user] = peer
	t.mu.Unlock()
}

// Clear forgets the active conversation of user.
func (t *Tracker) Clear(user string) {
	t.mu.Lock()
	delete(t.active, user)
	t.mu.Unlock()
}

// IsActive reports whether user is viewing the conversation with peer.
func (t *Tracker) IsActive(user, peer string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.active[user]
	return ok && p == peer
}

// Len returns the number of users with an active conversation.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}
