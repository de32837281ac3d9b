package reconcile

import (
	"fmt"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/channel"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/registry"
	"go.uber.org/zap"
)

// Sessions is the part of the registry the reconciler mutates.
type Sessions interface {
	Drop(handle string) (registry.Session, registry.Change, bool)
	Unregister(handle string) (registry.Session, registry.Change, bool)
	Emit(handles []string, evt protocol.Outbound) int
}

// Channels is the live group channel membership.
type Channels interface {
	DropSession(handle string) []channel.Departure
	Handles(group string) []string
}

// Conversations is the active conversation tracker.
type Conversations interface {
	Clear(user string)
}

// Report summarises one cleanup.
type Report struct {
	Handle      string
	UserID      string
	WentOffline bool
	Departures  []channel.Departure
	Failed      []string
}

// Reconciler restores every in-memory view to a consistent state when a
// session goes away. Each step runs even if an earlier one failed.
type Reconciler struct {
	sessions Sessions
	channels Channels
	convs    Conversations
	bus      *bus.Bus
	logger   *zap.Logger
}

func New(sessions Sessions, channels Channels, convs Conversations, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		sessions: sessions,
		channels: channels,
		convs:    convs,
		bus:      b,
		logger:   logger.Named("reconcile"),
	}
}

// Disconnect cleans up after a lost transport session.
func (r *Reconciler) Disconnect(handle string) Report {
	rep := r.cleanup(handle, func() (registry.Session, registry.Change, bool) {
		return r.sessions.Drop(handle)
	})
	r.bus.Emit(bus.KindSessionClosed, handle)
	return rep
}

// Unregister runs the same cleanup for a session that unbinds its user but
// stays connected.
func (r *Reconciler) Unregister(handle string) Report {
	return r.cleanup(handle, func() (registry.Session, registry.Change, bool) {
		return r.sessions.Unregister(handle)
	})
}

func (r *Reconciler) cleanup(handle string, detach func() (registry.Session, registry.Change, bool)) Report {
	rep := Report{Handle: handle}

	r.step(&rep, "registry", func() {
		s, c, _ := detach()
		rep.UserID = s.UserID
		rep.WentOffline = !c.IsZero() && !c.Online
	})

	r.step(&rep, "channels", func() {
		rep.Departures = r.channels.DropSession(handle)
		for _, d := range rep.Departures {
			if rep.UserID == "" {
				rep.UserID = d.UserID
			}
			r.sessions.Emit(r.channels.Handles(d.GroupID), protocol.Outbound{
				Type: protocol.TypeMemberStatus,
				Data: protocol.MemberStatus{GroupID: d.GroupID, UserID: d.UserID, Status: protocol.StatusOffline},
			})
			r.bus.Emit(bus.KindChannelLeft, bus.Membership{GroupID: d.GroupID, UserID: d.UserID})
		}
	})

	r.step(&rep, "conversation", func() {
		if rep.UserID == "" {
			r.logger.Debug("no user bound to session", zap.String("session", handle))
			return
		}
		r.convs.Clear(rep.UserID)
	})

	if len(rep.Failed) > 0 {
		r.logger.Warn("session cleanup incomplete", zap.String("session", handle), zap.Strings("failed", rep.Failed))
	}
	return rep
}

func (r *Reconciler) step(rep *Report, name string, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			rep.Failed = append(rep.Failed, name)
			r.logger.Error("cleanup step panicked",
				zap.String("session", rep.Handle),
				zap.String("step", name),
				zap.Error(fmt.Errorf("%v", v)))
		}
	}()
	fn()
}
