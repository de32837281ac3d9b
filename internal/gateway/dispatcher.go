package gateway

import (
	"context"
	"time"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/channel"
	"github.com/matheus3301/pulse/internal/conversation"
	"github.com/matheus3301/pulse/internal/fault"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/reconcile"
	"github.com/matheus3301/pulse/internal/registry"
	"github.com/matheus3301/pulse/internal/router"
	"github.com/matheus3301/pulse/internal/store"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Store is the durable state the dispatcher reads directly.
type Store interface {
	GetGroup(ctx context.Context, id string) (*store.Group, error)
	UnreadNotifications(ctx context.Context, user string, limit int) ([]store.Notification, error)
	MarkNotificationsRead(ctx context.Context, user string) (int64, error)
	MarkGroupNotificationsRead(ctx context.Context, user, group string) (int64, error)
}

// Observer is told about every dispatched event.
type Observer interface {
	ObserveDispatch(kind string, err error, elapsed time.Duration)
}

// Peer identifies the connection an event arrived on. Authenticated is the
// identity proven at connect time, empty when auth is disabled.
type Peer struct {
	Handle        string
	Authenticated string
}

// Dispatcher handles the typed inbound events of one or more connections.
// Events of a single connection must be dispatched sequentially.
type Dispatcher struct {
	registry *registry.Registry
	router   *router.Router
	convs    *conversation.Tracker
	channels *channel.Membership
	recon    *reconcile.Reconciler
	store    Store
	bus      *bus.Bus
	observer Observer
	logger   *zap.Logger
}

// NewDispatcher wires the dispatcher. observer may be nil.
func NewDispatcher(
	reg *registry.Registry,
	rt *router.Router,
	convs *conversation.Tracker,
	channels *channel.Membership,
	recon *reconcile.Reconciler,
	st Store,
	b *bus.Bus,
	observer Observer,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		router:   rt,
		convs:    convs,
		channels: channels,
		recon:    recon,
		store:    st,
		bus:      b,
		observer: observer,
		logger:   logger.Named("dispatch"),
	}
}

// Dispatch applies one request and returns the reply paired with its id.
func (d *Dispatcher) Dispatch(ctx context.Context, p Peer, req protocol.Request) protocol.Outbound {
	start := time.Now()
	data, err := d.handle(ctx, p, req.Event)
	if d.observer != nil {
		d.observer.ObserveDispatch(string(req.Event.Kind()), err, time.Since(start))
	}
	if err != nil {
		if fault.Is(err, fault.Upstream) || fault.KindOf(err) == 0 {
			d.logger.Error("request failed", zap.String("session", p.Handle), zap.String("kind", string(req.Event.Kind())), zap.Error(err))
		} else {
			d.logger.Debug("request rejected", zap.String("session", p.Handle), zap.String("kind", string(req.Event.Kind())), zap.Error(err))
		}
		return protocol.Failure(req.ID, err)
	}
	if out, ok := data.(protocol.Outbound); ok {
		out.ReplyTo = req.ID
		return out
	}
	return protocol.Ack(req.ID, data)
}

func (d *Dispatcher) handle(ctx context.Context, p Peer, evt protocol.Inbound) (any, error) {
	switch e := evt.(type) {
	case protocol.Register:
		return d.register(ctx, p, e)
	case protocol.Unregister:
		rep := d.recon.Unregister(p.Handle)
		return map[string]string{"user_id": rep.UserID}, nil

	case protocol.OpenConversation:
		user, err := d.identity(p, e.UserID)
		if err != nil {
			return nil, err
		}
		d.convs.Set(user, e.PeerID)
		return nil, nil
	case protocol.CloseConversation:
		user, err := d.identity(p, e.UserID)
		if err != nil {
			return nil, err
		}
		d.convs.Clear(user)
		return nil, nil

	case protocol.SendDirect:
		user, err := d.identity(p, e.SenderID)
		if err != nil {
			return nil, err
		}
		e.SenderID = user
		rc, err := d.router.SendDirect(ctx, e)
		if err != nil {
			return nil, err
		}
		return protocol.MessageSent{MessageID: rc.Message.ID, Live: rc.Live}, nil
	case protocol.SendGroup:
		user, err := d.identity(p, e.SenderID)
		if err != nil {
			return nil, err
		}
		e.SenderID = user
		rc, err := d.router.SendGroup(ctx, e)
		if err != nil {
			return nil, err
		}
		return protocol.MessageSent{MessageID: rc.Message.ID, Live: rc.Live}, nil

	case protocol.MarkSeen:
		user, err := d.identity(p, e.ViewerID)
		if err != nil {
			return nil, err
		}
		e.ViewerID = user
		return nil, d.router.MarkSeen(ctx, e)
	case protocol.MarkDelivered:
		user, err := d.identity(p, e.ViewerID)
		if err != nil {
			return nil, err
		}
		e.ViewerID = user
		return nil, d.router.MarkDelivered(ctx, e)
	case protocol.EditMessage:
		user, err := d.identity(p, e.RequesterID)
		if err != nil {
			return nil, err
		}
		e.RequesterID = user
		return nil, d.router.Edit(ctx, e)
	case protocol.DeleteMessage:
		user, err := d.identity(p, e.RequesterID)
		if err != nil {
			return nil, err
		}
		e.RequesterID = user
		return nil, d.router.Delete(ctx, e)

	case protocol.JoinGroup:
		return d.join(ctx, p, e)
	case protocol.LeaveGroup:
		if _, err := d.identity(p, e.UserID); err != nil {
			return nil, err
		}
		d.leave(p.Handle, e.GroupID)
		return nil, nil
	case protocol.AddMembers:
		user, err := d.identity(p, e.AdminID)
		if err != nil {
			return nil, err
		}
		e.AdminID = user
		g, err := d.router.AddMembers(ctx, e)
		if err != nil {
			return nil, err
		}
		return protocol.GroupUpdate{GroupID: g.ID, AdminID: g.AdminID, Members: g.Members}, nil
	case protocol.ExitGroup:
		user, err := d.identity(p, e.UserID)
		if err != nil {
			return nil, err
		}
		e.UserID = user
		g, err := d.router.ExitGroup(ctx, e)
		if err != nil {
			return nil, err
		}
		return map[string]string{"group_id": g.ID, "admin_id": g.AdminID}, nil

	case protocol.Typing:
		user, err := d.identity(p, e.FromUserID)
		if err != nil {
			return nil, err
		}
		e.FromUserID = user
		return map[string]int{"sessions": d.router.Typing(e)}, nil
	case protocol.Signal:
		user, err := d.identity(p, e.FromUserID)
		if err != nil {
			return nil, err
		}
		e.FromUserID = user
		n, err := d.router.Signal(ctx, e)
		if err != nil {
			return nil, err
		}
		return map[string]int{"sessions": n}, nil

	case protocol.ListPresence:
		return protocol.Outbound{
			Type: protocol.TypePresenceList,
			Data: protocol.OnlineUsers{Users: d.registry.OnlineUsers()},
		}, nil
	case protocol.ReadNotifications:
		user, err := d.identity(p, e.UserID)
		if err != nil {
			return nil, err
		}
		n, err := d.store.MarkNotificationsRead(ctx, user)
		if err != nil {
			return nil, fault.Wrap(err, "mark notifications read")
		}
		return map[string]int64{"marked": n}, nil
	}
	return nil, fault.New(fault.Validation, "", "unsupported event %q", evt.Kind())
}

// identity resolves the user bound to the session. A claimed identity in
// the payload must match it.
func (d *Dispatcher) identity(p Peer, claimed string) (string, error) {
	s, ok := d.registry.Lookup(p.Handle)
	if !ok {
		return "", fault.New(fault.NotFound, fault.CodeSessionNotFound, "session is closed")
	}
	if s.UserID == "" {
		return "", fault.New(fault.Forbidden, fault.CodeUnregistered, "register the session first")
	}
	if claimed != "" && claimed != s.UserID {
		return "", fault.New(fault.Forbidden, fault.CodeIdentityMismatch, "payload identity does not match the session")
	}
	return s.UserID, nil
}

func (d *Dispatcher) register(ctx context.Context, p Peer, e protocol.Register) (any, error) {
	if p.Authenticated != "" && e.UserID != p.Authenticated {
		return nil, fault.New(fault.Forbidden, fault.CodeIdentityMismatch, "cannot register as another user")
	}
	if _, err := d.registry.Register(p.Handle, e.UserID); err != nil {
		return nil, err
	}

	unread, err := d.store.UnreadNotifications(ctx, e.UserID, 0)
	if err != nil {
		d.logger.Warn("failed to load unread notifications", zap.String("user", e.UserID), zap.Error(err))
	} else if len(unread) > 0 {
		d.registry.Emit([]string{p.Handle}, protocol.Outbound{
			Type: protocol.TypeNotificationsUnread,
			Data: lo.Map(unread, func(n store.Notification, _ int) protocol.Notification {
				return protocol.Notification{
					ID: n.ID, SenderID: n.SenderID, MessageID: n.MessageID, Type: n.Type, Body: n.Body, CreatedAt: n.CreatedAt,
				}
			}),
		})
	}
	return map[string]string{"user_id": e.UserID}, nil
}

// join subscribes the session to the group channel and replies with the
// members currently listening.
func (d *Dispatcher) join(ctx context.Context, p Peer, e protocol.JoinGroup) (any, error) {
	user, err := d.identity(p, e.UserID)
	if err != nil {
		return nil, err
	}
	g, err := d.store.GetGroup(ctx, e.GroupID)
	if err != nil {
		return nil, fault.Wrap(err, "load group")
	}
	if g == nil {
		return nil, fault.GroupNotFound(e.GroupID)
	}
	if !lo.Contains(g.Members, user) {
		return nil, fault.NotMember(user, e.GroupID)
	}

	if d.channels.Join(e.GroupID, user, p.Handle) {
		d.registry.Emit(d.channels.Handles(e.GroupID), protocol.Outbound{
			Type: protocol.TypeMemberStatus,
			Data: protocol.MemberStatus{GroupID: e.GroupID, UserID: user, Status: protocol.StatusOnline},
		})
		d.bus.Emit(bus.KindChannelJoined, bus.Membership{GroupID: e.GroupID, UserID: user})
	}
	if _, err := d.store.MarkGroupNotificationsRead(ctx, user, e.GroupID); err != nil {
		d.logger.Warn("failed to mark group notifications read", zap.String("user", user), zap.String("group", e.GroupID), zap.Error(err))
	}
	return map[string][]string{"online": d.channels.Members(e.GroupID)}, nil
}

func (d *Dispatcher) leave(handle, group string) {
	user, last := d.channels.Leave(group, handle)
	if !last {
		return
	}
	d.registry.Emit(d.channels.Handles(group), protocol.Outbound{
		Type: protocol.TypeMemberStatus,
		Data: protocol.MemberStatus{GroupID: group, UserID: user, Status: protocol.StatusOffline},
	})
	d.bus.Emit(bus.KindChannelLeft, bus.Membership{GroupID: group, UserID: user})
}
