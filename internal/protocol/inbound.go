package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/matheus3301/pulse/internal/fault"
)

// Kind names an inbound event.
type Kind string

const (
	SessionRegister   Kind = "session.register"
	SessionUnregister Kind = "session.unregister"
	ConversationOpen  Kind = "conversation.open"
	ConversationClose Kind = "conversation.close"
	MessageSend       Kind = "message.send"
	GroupMessageSend  Kind = "group.message.send"
	MessageSeen       Kind = "message.seen"
	MessageDelivered  Kind = "message.delivered"
	MessageEdit       Kind = "message.edit"
	MessageDelete     Kind = "message.delete"
	GroupJoin         Kind = "group.join"
	GroupLeave        Kind = "group.leave"
	GroupMembersAdd   Kind = "group.members.add"
	GroupExit         Kind = "group.exit"
	TypingStart       Kind = "typing.start"
	TypingStop        Kind = "typing.stop"
	PresenceList      Kind = "presence.list"
	NotificationsRead Kind = "notifications.read"
	CallSignal        Kind = "call.signal"
)

// Frame is the JSON envelope exchanged with clients in both directions.
type Frame struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound is implemented by every typed inbound event.
type Inbound interface {
	Kind() Kind
}

// Request is a decoded inbound frame.
type Request struct {
	ID    string
	Event Inbound
}

// User identity fields are optional: when empty the identity bound to the
// session is used, when set it must match it.

type Register struct {
	UserID string `json:"user_id" validate:"required"`
}

type Unregister struct{}

type OpenConversation struct {
	UserID string `json:"user_id"`
	PeerID string `json:"peer_id" validate:"required"`
}

type CloseConversation struct {
	UserID string `json:"user_id"`
}

type SendDirect struct {
	SenderID   string   `json:"sender_id"`
	ReceiverID string   `json:"receiver_id" validate:"required"`
	Text       string   `json:"text" validate:"max=8192"`
	FileURLs   []string `json:"file_urls" validate:"max=16,dive,required"`
	AudioURL   string   `json:"audio_url"`
	ForwardOf  string   `json:"forward_of"`
}

type SendGroup struct {
	SenderID string   `json:"sender_id"`
	GroupID  string   `json:"group_id" validate:"required"`
	Text     string   `json:"text" validate:"max=8192"`
	FileURLs []string `json:"file_urls" validate:"max=16,dive,required"`
	AudioURL string   `json:"audio_url"`
}

type MarkSeen struct {
	MessageID string `json:"message_id" validate:"required"`
	ViewerID  string `json:"viewer_id"`
}

type MarkDelivered struct {
	MessageID string `json:"message_id" validate:"required"`
	ViewerID  string `json:"viewer_id"`
}

type EditMessage struct {
	MessageID   string `json:"message_id" validate:"required"`
	RequesterID string `json:"requester_id"`
	Text        string `json:"text" validate:"required,max=8192"`
}

// Delete modes.
const (
	DeleteForMe       = "me"
	DeleteForEveryone = "everyone"
)

type DeleteMessage struct {
	MessageID   string `json:"message_id" validate:"required"`
	RequesterID string `json:"requester_id"`
	Mode        string `json:"mode" validate:"required,oneof=me everyone"`
}

type JoinGroup struct {
	GroupID string `json:"group_id" validate:"required"`
	UserID  string `json:"user_id"`
}

type LeaveGroup struct {
	GroupID string `json:"group_id" validate:"required"`
	UserID  string `json:"user_id"`
}

// AddMembers extends the durable roster of a group. Only the group admin
// may add members.
type AddMembers struct {
	GroupID string   `json:"group_id" validate:"required"`
	AdminID string   `json:"admin_id"`
	UserIDs []string `json:"user_ids" validate:"required,min=1,max=256,dive,required"`
}

// ExitGroup removes the caller from the durable roster, unlike LeaveGroup
// which only stops listening to the group channel.
type ExitGroup struct {
	GroupID string `json:"group_id" validate:"required"`
	UserID  string `json:"user_id"`
}

// Call signal kinds relayed between peers.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
	SignalMute         = "mute"
	SignalCamera       = "camera"
	SignalRemove       = "remove"
	SignalEnd          = "end"
)

// Signal carries an opaque call negotiation payload to another user.
type Signal struct {
	FromUserID string          `json:"from_user_id"`
	ToUserID   string          `json:"to_user_id" validate:"required"`
	CallID     string          `json:"call_id" validate:"max=128"`
	Signal     string          `json:"signal" validate:"required,oneof=offer answer ice-candidate mute camera remove end"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Typing is used for both typing.start and typing.stop; exactly one of
// ToUserID and GroupID is set.
type Typing struct {
	Stop       bool   `json:"-"`
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id" validate:"required_without=GroupID,excluded_with=GroupID"`
	GroupID    string `json:"group_id" validate:"required_without=ToUserID"`
}

type ListPresence struct{}

type ReadNotifications struct {
	UserID string `json:"user_id"`
}

func (Register) Kind() Kind          { return SessionRegister }
func (Unregister) Kind() Kind        { return SessionUnregister }
func (OpenConversation) Kind() Kind  { return ConversationOpen }
func (CloseConversation) Kind() Kind { return ConversationClose }
func (SendDirect) Kind() Kind        { return MessageSend }
func (SendGroup) Kind() Kind         { return GroupMessageSend }
func (MarkSeen) Kind() Kind          { return MessageSeen }
func (MarkDelivered) Kind() Kind     { return MessageDelivered }
func (EditMessage) Kind() Kind       { return MessageEdit }
func (DeleteMessage) Kind() Kind     { return MessageDelete }
func (JoinGroup) Kind() Kind         { return GroupJoin }
func (LeaveGroup) Kind() Kind        { return GroupLeave }
func (ListPresence) Kind() Kind      { return PresenceList }
func (ReadNotifications) Kind() Kind { return NotificationsRead }
func (AddMembers) Kind() Kind        { return GroupMembersAdd }
func (ExitGroup) Kind() Kind         { return GroupExit }
func (Signal) Kind() Kind            { return CallSignal }

func (t Typing) Kind() Kind {
	if t.Stop {
		return TypingStop
	}
	return TypingStart
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses a raw frame into a typed request. Malformed frames and
// payloads that fail validation are reported as fault.Validation errors; the
// request ID is returned whenever it could be read so the caller can pair
// the error reply.
func Decode(raw []byte) (Request, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Request{}, fault.New(fault.Validation, "", "malformed frame: %v", err)
	}
	req := Request{ID: f.ID}

	var evt Inbound
	var err error
	switch Kind(f.Type) {
	case SessionRegister:
		evt, err = decodeInto[Register](f.Data)
	case SessionUnregister:
		evt = Unregister{}
	case ConversationOpen:
		evt, err = decodeInto[OpenConversation](f.Data)
	case ConversationClose:
		evt, err = decodeInto[CloseConversation](f.Data)
	case MessageSend:
		evt, err = decodeInto[SendDirect](f.Data)
	case GroupMessageSend:
		evt, err = decodeInto[SendGroup](f.Data)
	case MessageSeen:
		evt, err = decodeInto[MarkSeen](f.Data)
	case MessageDelivered:
		evt, err = decodeInto[MarkDelivered](f.Data)
	case MessageEdit:
		evt, err = decodeInto[EditMessage](f.Data)
	case MessageDelete:
		evt, err = decodeInto[DeleteMessage](f.Data)
	case GroupJoin:
		evt, err = decodeInto[JoinGroup](f.Data)
	case GroupLeave:
		evt, err = decodeInto[LeaveGroup](f.Data)
	case GroupMembersAdd:
		evt, err = decodeInto[AddMembers](f.Data)
	case GroupExit:
		evt, err = decodeInto[ExitGroup](f.Data)
	case CallSignal:
		evt, err = decodeInto[Signal](f.Data)
	case TypingStart, TypingStop:
		var t Typing
		t, err = decodeInto[Typing](f.Data)
		t.Stop = Kind(f.Type) == TypingStop
		evt = t
	case PresenceList:
		evt = ListPresence{}
	case NotificationsRead:
		evt, err = decodeInto[ReadNotifications](f.Data)
	default:
		return req, fault.New(fault.Validation, "", "unknown event type %q", f.Type)
	}
	if err != nil {
		return req, err
	}
	req.Event = evt
	return req, nil
}

func decodeInto[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return v, fault.New(fault.Validation, "", "invalid payload: %v", err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return v, fault.New(fault.Validation, "", "%s", describe(err))
	}
	return v, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
