package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the coordinator. Subscribers filter by prefix,
// e.g. "message." or "daemon.".
const (
	KindPresenceChanged   = "presence.changed"
	KindSessionOpened     = "session.opened"
	KindSessionClosed     = "session.closed"
	KindMessageSent       = "message.sent"
	KindMessageStatus     = "message.status"
	KindMessageEdited     = "message.edited"
	KindMessageDeleted    = "message.deleted"
	KindNotificationSaved = "notification.saved"
	KindChannelJoined     = "channel.joined"
	KindChannelLeft       = "channel.left"
	KindRosterChanged     = "group.roster_changed"
	KindMailQueued        = "mail.queued"
	KindMailSent          = "mail.sent"
	KindMailFailed        = "mail.failed"
	KindStatusChanged     = "daemon.status_changed"
)

// PresenceChanged is the payload of presence.changed.
type PresenceChanged struct {
	UserID  string
	Online  bool
	Version uint64
}

// MessageSent is the payload of message.sent.
type MessageSent struct {
	MessageID  string
	SenderID   string
	GroupID    string
	Recipients int
	Live       int
}

// MessageRef identifies the message a status, edit or delete event refers to.
type MessageRef struct {
	MessageID string
	UserID    string
	Detail    string
}

// NotificationSaved is the payload of notification.saved.
type NotificationSaved struct {
	UserID    string
	MessageID string
	Group     bool
}

// Membership is the payload of channel.joined and channel.left.
type Membership struct {
	GroupID string
	UserID  string
}

// RosterChanged is the payload of group.roster_changed.
type RosterChanged struct {
	GroupID string
	AdminID string
	Added   []string
	Removed string
}

// Mail is the payload of the mail.* events.
type Mail struct {
	ID        int64
	Recipient string
	Error     string
}
