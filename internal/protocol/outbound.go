package protocol

import (
	"encoding/json"
	"errors"

	"github.com/matheus3301/pulse/internal/fault"
)

// Outbound event types.
const (
	TypeAck                 = "ack"
	TypeError               = "error"
	TypeUserStatus          = "user.status"
	TypeMessageReceive      = "message.receive"
	TypeGroupMessageReceive = "group.message.receive"
	TypeMessageSent         = "message.sent"
	TypeMessageStatus       = "message.status"
	TypeMessageUpdated      = "message.updated"
	TypeMessageDeleted      = "message.deleted"
	TypeNotificationNew     = "notification.new"
	TypeNotificationsUnread = "notifications.unread"
	TypeMemberStatus        = "group.member.status"
	TypeTypingStart         = "typing.start"
	TypeTypingStop          = "typing.stop"
	TypePresenceList        = "presence.list"
	TypeMemberAdded         = "group.member.added"
	TypeGroupUpdate         = "group.update"
	TypeMemberLeft          = "group.member.left"
	TypeCallSignal          = "call.signal"
)

// Outbound is a server-to-client event.
type Outbound struct {
	Type    string `json:"type"`
	ReplyTo string `json:"reply_to,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Message is the client view of a persisted message.
type Message struct {
	ID             string   `json:"id"`
	SenderID       string   `json:"sender_id"`
	ReceiverID     string   `json:"receiver_id,omitempty"`
	GroupID        string   `json:"group_id,omitempty"`
	Receivers      []string `json:"receivers,omitempty"`
	Text           string   `json:"text"`
	FileURLs       []string `json:"file_urls,omitempty"`
	AudioURL       string   `json:"audio_url,omitempty"`
	ForwardOf      string   `json:"forward_of,omitempty"`
	Edited         bool     `json:"edited"`
	Deleted        bool     `json:"deleted"`
	DeliveryStatus string   `json:"delivery_status"`
	SeenBy         []string `json:"seen_by,omitempty"`
	CreatedAt      int64    `json:"created_at"`
}

type UserStatus struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type MessageReceived struct {
	Message    Message `json:"message"`
	SenderName string  `json:"sender_name"`
}

type MessageSent struct {
	MessageID string `json:"message_id"`
	Live      int    `json:"live_sessions"`
}

type MessageStatus struct {
	MessageID      string `json:"message_id"`
	DeliveryStatus string `json:"delivery_status"`
	By             string `json:"by,omitempty"`
}

type MessageUpdated struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type MessageDeleted struct {
	MessageID string `json:"message_id"`
	Mode      string `json:"mode"`
}

type NotificationNew struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	FromUserID string `json:"from_user_id"`
	GroupID    string `json:"group_id,omitempty"`
}

type Notification struct {
	ID        string `json:"id"`
	SenderID  string `json:"sender_id,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Type      string `json:"type"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
}

type MemberStatus struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
	Status  string `json:"status"`
}

// Member status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// MemberAdded tells a user they were added to a group.
type MemberAdded struct {
	GroupID   string   `json:"group_id"`
	GroupName string   `json:"group_name"`
	Message   string   `json:"message"`
	AddedBy   string   `json:"added_by"`
	Members   []string `json:"members"`
}

// GroupUpdate carries the roster of a group after it changed.
type GroupUpdate struct {
	GroupID string   `json:"group_id"`
	AdminID string   `json:"admin_id"`
	Members []string `json:"members"`
	Added   []string `json:"added,omitempty"`
}

type MemberLeft struct {
	GroupID string   `json:"group_id"`
	UserID  string   `json:"user_id"`
	AdminID string   `json:"admin_id"`
	Members []string `json:"members"`
}

type CallSignalNotice struct {
	FromUserID string          `json:"from_user_id"`
	CallID     string          `json:"call_id,omitempty"`
	Signal     string          `json:"signal"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type TypingNotice struct {
	FromUserID string `json:"from_user_id"`
	GroupID    string `json:"group_id,omitempty"`
}

type OnlineUsers struct {
	Users []string `json:"users"`
}

type ErrorBody struct {
	Kind      string `json:"kind"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Ack pairs a successful reply with request id.
func Ack(id string, data any) Outbound {
	return Outbound{Type: TypeAck, ReplyTo: id, Data: data}
}

// Failure pairs an error reply with request id. Errors that are not faults
// are reported as upstream failures without leaking their text.
func Failure(id string, err error) Outbound {
	body := ErrorBody{Kind: fault.Upstream.String(), Message: "service temporarily unavailable", Retryable: true}
	var fe *fault.Error
	if errors.As(err, &fe) {
		body = ErrorBody{Kind: fe.Kind.String(), Code: fe.Code, Message: fe.Msg, Retryable: fe.Retryable()}
		if fe.Kind == fault.Upstream {
			body.Message = "service temporarily unavailable"
		}
	}
	return Outbound{Type: TypeError, ReplyTo: id, Data: body}
}
