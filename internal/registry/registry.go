package registry

import (
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/pulse/internal/fault"
	"github.com/matheus3301/pulse/internal/protocol"
	"go.uber.org/zap"
)

// Sink delivers outbound events to one transport session. Send must not block.
type Sink interface {
	Send(evt protocol.Outbound) error
}

// Session is a live transport session. UserID is empty until registration.
type Session struct {
	Handle    string
	UserID    string
	CreatedAt time.Time
}

// Change reports that a user's session set flipped between empty and
// non-empty. Versions are strictly increasing across the registry.
type Change struct {
	UserID  string
	Online  bool
	Version uint64
}

// IsZero reports whether the call that returned c changed no presence.
func (c Change) IsZero() bool { return c.Version == 0 }

// Listener receives presence changes. It is called outside the registry lock,
// so calls for different changes may arrive out of order.
type Listener func(Change)

type entry struct {
	session Session
	sink    Sink
}

// Registry maps users to their live transport sessions. It is the only owner
// of session handles and sinks.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	users    map[string]map[string]struct{}
	version  uint64
	listener Listener
	log      *zap.Logger
	now      func() time.Time
}

// New creates an empty registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		users:    make(map[string]map[string]struct{}),
		log:      log.Named("registry"),
		now:      time.Now,
	}
}

// SetListener installs the presence listener. It must be called before any
// session is registered.
func (r *Registry) SetListener(l Listener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// Open records a new, unregistered transport session.
func (r *Registry) Open(handle string, sink Sink) error {
	if handle == "" || sink == nil {
		return fault.New(fault.Validation, "", "session handle and sink are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[handle]; ok {
		return fault.New(fault.Conflict, "", "session %q already open", handle)
	}
	r.sessions[handle] = &entry{session: Session{Handle: handle, CreatedAt: r.now()}, sink: sink}
	return nil
}

// Register binds handle to user. Registering the same pair again is a no-op;
// binding a session that already belongs to another user is a conflict.
func (r *Registry) Register(handle, user string) (Change, error) {
	if user == "" {
		return Change{}, fault.New(fault.Validation, "", "user identity is required")
	}
	r.mu.Lock()
	e, ok := r.sessions[handle]
	if !ok {
		r.mu.Unlock()
		return Change{}, fault.New(fault.NotFound, fault.CodeSessionNotFound, "session %q is not open", handle)
	}
	switch e.session.UserID {
	case user:
		r.mu.Unlock()
		return Change{}, nil
	case "":
	default:
		r.mu.Unlock()
		return Change{}, fault.New(fault.Conflict, fault.CodeSessionBound, "session %q is bound to another user", handle)
	}
	e.session.UserID = user
	set, existed := r.users[user]
	if !existed {
		set = make(map[string]struct{})
		r.users[user] = set
	}
	set[handle] = struct{}{}
	var c Change
	if !existed {
		c = r.changeLocked(user, true)
	}
	l := r.listener
	r.mu.Unlock()

	r.notify(l, c)
	return c, nil
}

// Unregister unbinds the session from its user but keeps the transport
// session open. ok is false when the handle is unknown or was not bound.
func (r *Registry) Unregister(handle string) (Session, Change, bool) {
	r.mu.Lock()
	e, found := r.sessions[handle]
	if !found || e.session.UserID == "" {
		r.mu.Unlock()
		return Session{}, Change{}, false
	}
	prev := e.session
	c := r.unbindLocked(prev)
	e.session.UserID = ""
	l := r.listener
	r.mu.Unlock()

	r.notify(l, c)
	return prev, c, true
}

// Drop forgets the session entirely. Unknown handles are ignored.
func (r *Registry) Drop(handle string) (Session, Change, bool) {
	r.mu.Lock()
	e, found := r.sessions[handle]
	if !found {
		r.mu.Unlock()
		return Session{}, Change{}, false
	}
	delete(r.sessions, handle)
	var c Change
	if e.session.UserID != "" {
		c = r.unbindLocked(e.session)
	}
	l := r.listener
	r.mu.Unlock()

	r.notify(l, c)
	return e.session, c, true
}

func (r *Registry) unbindLocked(s Session) Change {
	set := r.users[s.UserID]
	delete(set, s.Handle)
	if len(set) > 0 {
		return Change{}
	}
	delete(r.users, s.UserID)
	return r.changeLocked(s.UserID, false)
}

func (r *Registry) changeLocked(user string, online bool) Change {
	r.version++
	return Change{UserID: user, Online: online, Version: r.version}
}

func (r *Registry) notify(l Listener, c Change) {
	if l == nil || c.IsZero() {
		return
	}
	l(c)
}

// Lookup returns the session for handle.
func (r *Registry) Lookup(handle string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[handle]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// Resolve returns the handles of user's live sessions, sorted. It is empty
// when the user is offline.
func (r *Registry) Resolve(user string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.users[user]
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Online reports whether user has at least one live session.
func (r *Registry) Online(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[user]) > 0
}

// OnlineUsers lists every user with a live session, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for u := range r.users {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

// Stats holds registry counters.
type Stats struct {
	Sessions int
	Users    int
}

// Stats counts open sessions, registered or not, and online users.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Sessions: len(r.sessions), Users: len(r.users)}
}

// Emit sends evt to each listed session and returns how many accepted it.
func (r *Registry) Emit(handles []string, evt protocol.Outbound) int {
	r.mu.RLock()
	sinks := make(map[string]Sink, len(handles))
	for _, h := range handles {
		if e, ok := r.sessions[h]; ok {
			sinks[h] = e.sink
		}
	}
	r.mu.RUnlock()
	return r.send(sinks, evt)
}

// EmitUser sends evt to all of user's live sessions.
func (r *Registry) EmitUser(user string, evt protocol.Outbound) int {
	return r.Emit(r.Resolve(user), evt)
}

// Broadcast sends evt to every open session except the one named.
func (r *Registry) Broadcast(evt protocol.Outbound, except string) int {
	r.mu.RLock()
	sinks := make(map[string]Sink, len(r.sessions))
	for h, e := range r.sessions {
		if h != except {
			sinks[h] = e.sink
		}
	}
	r.mu.RUnlock()
	return r.send(sinks, evt)
}

func (r *Registry) send(sinks map[string]Sink, evt protocol.Outbound) int {
	n := 0
	for h, s := range sinks {
		if err := s.Send(evt); err != nil {
			r.log.Warn("emit failed", zap.String("session", h), zap.String("type", evt.Type), zap.Error(err))
			continue
		}
		n++
	}
	return n
}
