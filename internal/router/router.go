// Package router persists chat messages and routes them to live sessions,
// falling back to notifications and email for users who are not looking.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/store"
	"go.uber.org/zap"
)

// Store is the durable state the router reads and writes.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	Blocked(ctx context.Context, a, b string) (bool, error)
	GetGroup(ctx context.Context, id string) (*store.Group, error)
	AddGroupMembers(ctx context.Context, group string, users []string) error
	RemoveGroupMember(ctx context.Context, group, user string) (string, error)

	InsertMessage(ctx context.Context, m *store.Message) error
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	MarkDelivered(ctx context.Context, id string) (bool, error)
	MarkSeen(ctx context.Context, id, viewer string) (bool, error)
	EditMessage(ctx context.Context, id, text string) error
	DeleteForUser(ctx context.Context, id, user string) error
	DeletedFor(ctx context.Context, id, user string) (bool, error)
	Tombstone(ctx context.Context, id string) error

	InsertNotification(ctx context.Context, n *store.Notification) error
	InsertGroupNotification(ctx context.Context, n *store.GroupNotification) error
	QueueEmail(ctx context.Context, recipient, subject, body string) (int64, error)
}

// Sessions resolves users to live sessions and emits events to them.
type Sessions interface {
	Resolve(user string) []string
	Emit(handles []string, evt protocol.Outbound) int
	EmitUser(user string, evt protocol.Outbound) int
}

// ActiveHint tells whether a user is viewing a conversation.
type ActiveHint interface {
	IsActive(user, peer string) bool
}

// Channels is the live group channel membership.
type Channels interface {
	Handles(group string) []string
	IsMember(group, user string) bool
	Evict(group, user string) bool
}

// Options tunes the router.
type Options struct {
	EditWindow   time.Duration
	FanoutLimit  int
	EmailOffline bool
	Now          func() time.Time
}

// DefaultEditWindow bounds edits and deletes for everyone.
const DefaultEditWindow = 10 * time.Minute

// Router persists messages and routes them to live sessions, falling back
// to notifications for recipients that are offline or not looking.
type Router struct {
	store    Store
	sessions Sessions
	active   ActiveHint
	channels Channels
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options
	newID    func() string
}

// New creates a router.
func New(st Store, sessions Sessions, active ActiveHint, channels Channels, b *bus.Bus, logger *zap.Logger, opts Options) *Router {
	if opts.EditWindow <= 0 {
		opts.EditWindow = DefaultEditWindow
	}
	if opts.FanoutLimit <= 0 {
		opts.FanoutLimit = 16
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		store:    st,
		sessions: sessions,
		active:   active,
		channels: channels,
		bus:      b,
		logger:   logger.Named("router"),
		opts:     opts,
		newID:    uuid.NewString,
	}
}

// Receipt describes the outcome of a send.
type Receipt struct {
	Message  *store.Message
	Live     int // recipients with at least one live session
	Notified int // notifications persisted
}

type deliveryKind int

const (
	directDelivery deliveryKind = iota
	groupDelivery
)

// outcome of delivering one message to one recipient.
type outcome struct {
	live     bool
	notified bool
}

// deliverOrNotify emits m to the recipient's live sessions and decides
// whether a notification is persisted. Direct messages are notified when the
// recipient is offline or not viewing the sender's conversation; group
// messages are always notified. The returned error only reports the
// notification write; live emits never fail the call.
func (r *Router) deliverOrNotify(ctx context.Context, recipient string, m *store.Message, senderName string, kind deliveryKind) (outcome, error) {
	var out outcome
	handles := r.sessions.Resolve(recipient)
	out.live = len(handles) > 0

	evtType := protocol.TypeMessageReceive
	if kind == groupDelivery {
		evtType = protocol.TypeGroupMessageReceive
	}
	if out.live {
		r.sessions.Emit(handles, protocol.Outbound{
			Type: evtType,
			Data: protocol.MessageReceived{Message: toWire(m), SenderName: senderName},
		})
	}

	notify := kind == groupDelivery || !out.live || !r.active.IsActive(recipient, m.SenderID)
	body := notificationBody(senderName, kind)
	if out.live {
		r.sessions.Emit(handles, protocol.Outbound{
			Type: protocol.TypeNotificationNew,
			Data: protocol.NotificationNew{Type: "message", Message: body, FromUserID: m.SenderID, GroupID: m.GroupID},
		})
	}
	if !notify {
		return out, nil
	}

	var err error
	if kind == groupDelivery {
		err = r.store.InsertGroupNotification(ctx, &store.GroupNotification{
			ID: r.newID(), UserID: recipient, GroupID: m.GroupID, SenderID: m.SenderID, MessageID: m.ID, Body: body,
		})
	} else {
		err = r.store.InsertNotification(ctx, &store.Notification{
			ID: r.newID(), UserID: recipient, SenderID: m.SenderID, MessageID: m.ID, Type: "message", Body: body,
		})
	}
	if err != nil {
		return out, fmt.Errorf("notify %s: %w", recipient, err)
	}
	out.notified = true
	r.bus.Emit(bus.KindNotificationSaved, bus.NotificationSaved{UserID: recipient, MessageID: m.ID, Group: kind == groupDelivery})
	return out, nil
}

func notificationBody(sender string, kind deliveryKind) string {
	if kind == groupDelivery {
		return sender + " sent a message to the group"
	}
	return "New message from " + sender
}

func (r *Router) displayName(ctx context.Context, id string) string {
	u, err := r.store.GetUser(ctx, id)
	if err != nil || u == nil || u.Name == "" {
		return id
	}
	return u.Name
}

func (r *Router) emitParticipants(m *store.Message, evt protocol.Outbound) int {
	n := 0
	for _, p := range m.Participants() {
		n += r.sessions.EmitUser(p, evt)
	}
	return n
}

func toWire(m *store.Message) protocol.Message {
	return protocol.Message{
		ID:             m.ID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		GroupID:        m.GroupID,
		Receivers:      m.Receivers,
		Text:           m.Text,
		FileURLs:       m.FileURLs,
		AudioURL:       m.AudioURL,
		ForwardOf:      m.ForwardedFrom,
		Edited:         m.Edited,
		Deleted:        m.Deleted,
		DeliveryStatus: m.DeliveryStatus,
		SeenBy:         m.SeenBy,
		CreatedAt:      m.CreatedAt,
	}
}
