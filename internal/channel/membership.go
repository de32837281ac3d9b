package channel

import (
	"slices"
	"sync"
)

// Membership tracks live subscriptions to group channels. A user is a member
// of a group channel while at least one of their sessions has joined it. The
// durable roster decides who belongs to a group; this only records who is
// listening right now.
type Membership struct {
	mu       sync.RWMutex
	groups   map[string]map[string]map[string]struct{} // group -> user -> handles
	sessions map[string]*joined                        // handle -> joined groups
}

type joined struct {
	user   string
	groups map[string]struct{}
}

// Departure names a user that stopped being a member of a group channel.
type Departure struct {
	GroupID string
	UserID  string
}

func NewMembership() *Membership {
	return &Membership{
		groups:   make(map[string]map[string]map[string]struct{}),
		sessions: make(map[string]*joined),
	}
}

// Join subscribes the session to the group channel. first reports whether
// user was not a member before.
func (m *Membership) Join(group, user, handle string) (first bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, ok := m.groups[group]
	if !ok {
		users = make(map[string]map[string]struct{})
		m.groups[group] = users
	}
	handles, member := users[user]
	if !member {
		handles = make(map[string]struct{})
		users[user] = handles
	}
	handles[handle] = struct{}{}

	j, ok := m.sessions[handle]
	if !ok {
		j = &joined{user: user, groups: make(map[string]struct{})}
		m.sessions[handle] = j
	}
	j.groups[group] = struct{}{}
	return !member
}

// Leave unsubscribes the session. last reports whether user is no longer a
// member of the group channel.
func (m *Membership) Leave(group, handle string) (user string, last bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.sessions[handle]
	if !ok {
		return "", false
	}
	if _, in := j.groups[group]; !in {
		return j.user, false
	}
	delete(j.groups, group)
	if len(j.groups) == 0 {
		delete(m.sessions, handle)
	}
	return j.user, m.removeLocked(group, j.user, handle)
}

// DropSession removes the session from every channel it joined and returns
// the departures it caused, sorted by group.
func (m *Membership) DropSession(handle string) []Departure {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.sessions[handle]
	if !ok {
		return nil
	}
	delete(m.sessions, handle)

	var out []Departure
	for g := range j.groups {
		if m.removeLocked(g, j.user, handle) {
			out = append(out, Departure{GroupID: g, UserID: j.user})
		}
	}
	slices.SortFunc(out, func(a, b Departure) int {
		switch {
		case a.GroupID < b.GroupID:
			return -1
		case a.GroupID > b.GroupID:
			return 1
		}
		return 0
	})
	return out
}

func (m *Membership) removeLocked(group, user, handle string) bool {
	users := m.groups[group]
	handles := users[user]
	delete(handles, handle)
	if len(handles) > 0 {
		return false
	}
	delete(users, user)
	if len(users) == 0 {
		delete(m.groups, group)
	}
	return true
}

// Evict unsubscribes every session of user from group. It reports whether
// user was a member.
func (m *Membership) Evict(group, user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	handles, ok := m.groups[group][user]
	if !ok {
		return false
	}
	for h := range handles {
		if j, ok := m.sessions[h]; ok {
			delete(j.groups, group)
			if len(j.groups) == 0 {
				delete(m.sessions, h)
			}
		}
	}
	users := m.groups[group]
	delete(users, user)
	if len(users) == 0 {
		delete(m.groups, group)
	}
	return true
}

// Members returns the users subscribed to group, sorted.
func (m *Membership) Members(group string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := m.groups[group]
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

// Handles returns every session subscribed to group.
func (m *Membership) Handles(group string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, handles := range m.groups[group] {
		for h := range handles {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return out
}

// IsMember reports whether any of user's sessions joined group.
func (m *Membership) IsMember(group, user string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.groups[group][user]
	return ok
}

// Channels returns the number of groups with at least one live member.
func (m *Membership) Channels() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.groups)
}
