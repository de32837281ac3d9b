package presence

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/registry"
	"go.uber.org/zap"
)

// Store mirrors presence onto the durable user record.
type Store interface {
	SetUserOnline(ctx context.Context, userID string, online bool) error
}

// Broadcaster fans an event out to every connected session.
type Broadcaster interface {
	Broadcast(evt protocol.Outbound, except string) int
}

type state struct {
	version uint64
	online  bool
}

// Tracker turns registry presence changes into durable mirrors and global
// user.status broadcasts, suppressing stale and repeated states.
// PresenceChanged never blocks; decisions wait in a pending list that a
// single worker applies in order.
type Tracker struct {
	mu      sync.Mutex
	last    map[string]state
	pending []registry.Change
	limit   int
	stopped bool

	wake   chan struct{}
	sent   map[string]bool // worker only
	store  Store
	out    Broadcaster
	bus    *bus.Bus
	logger *zap.Logger

	writeTimeout time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewTracker creates a tracker. Once queueSize decisions are pending, a new
// decision replaces the newest pending one of the same user instead of
// growing the list, so a slow store costs intermediate states, not callers.
func NewTracker(store Store, out Broadcaster, b *bus.Bus, logger *zap.Logger, queueSize int) *Tracker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Tracker{
		last:         make(map[string]state),
		limit:        queueSize,
		wake:         make(chan struct{}, 1),
		sent:         make(map[string]bool),
		store:        store,
		out:          out,
		bus:          b,
		logger:       logger.Named("presence"),
		writeTimeout: 5 * time.Second,
	}
}

// PresenceChanged records a registry change and queues a broadcast when the
// derived state differs from the last one broadcast for that user.
func (t *Tracker) PresenceChanged(c registry.Change) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.last[c.UserID]
	if seen && c.Version <= prev.version {
		t.logger.Debug("stale presence change", zap.String("user", c.UserID), zap.Uint64("version", c.Version))
		return
	}
	t.last[c.UserID] = state{version: c.Version, online: c.Online}
	if (seen && prev.online == c.Online) || (!seen && !c.Online) {
		return
	}
	if t.stopped {
		t.logger.Warn("presence change after stop", zap.String("user", c.UserID))
		return
	}
	t.enqueueLocked(c)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker) enqueueLocked(c registry.Change) {
	if len(t.pending) >= t.limit {
		for i := len(t.pending) - 1; i >= 0; i-- {
			if t.pending[i].UserID == c.UserID {
				t.pending[i] = c
				return
			}
		}
	}
	t.pending = append(t.pending, c)
}

// LastBroadcast returns the last state decided for user.
func (t *Tracker) LastBroadcast(user string) (online, known bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.last[user]
	return s.online, ok
}

// Start runs the worker that applies queued decisions in order.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.loop(ctx)
}

// Stop drains the pending decisions and stops the worker.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.cancel()
	<-t.done
}

func (t *Tracker) loop(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-t.wake:
			t.flush()
		case <-ctx.Done():
			t.flush()
			return
		}
	}
}

func (t *Tracker) flush() {
	for {
		t.mu.Lock()
		batch := t.pending
		t.pending = nil
		t.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, c := range batch {
			t.apply(c)
		}
	}
}

func (t *Tracker) apply(c registry.Change) {
	// Coalescing can leave a state equal to the one already applied. A user
	// never applied counts as offline.
	if t.sent[c.UserID] == c.Online {
		return
	}
	t.sent[c.UserID] = c.Online

	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()
	if err := t.store.SetUserOnline(ctx, c.UserID, c.Online); err != nil {
		t.logger.Error("failed to mirror presence", zap.String("user", c.UserID), zap.Bool("online", c.Online), zap.Error(err))
	}

	n := t.out.Broadcast(protocol.Outbound{
		Type: protocol.TypeUserStatus,
		Data: protocol.UserStatus{UserID: c.UserID, Online: c.Online},
	}, "")
	t.logger.Debug("presence broadcast", zap.String("user", c.UserID), zap.Bool("online", c.Online), zap.Int("sessions", n))

	t.bus.Emit(bus.KindPresenceChanged, bus.PresenceChanged{UserID: c.UserID, Online: c.Online, Version: c.Version})
}
