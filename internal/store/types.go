package store

// Delivery statuses, in the order they may advance.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
)

// Email outbox statuses.
const (
	EmailQueued  = "queued"
	EmailSending = "sending"
	EmailSent    = "sent"
	EmailFailed  = "failed"
)

// User is a chat participant.
type User struct {
	ID        string
	Name      string
	Email     string
	Online    bool
	CreatedAt int64
}

// Group is a chat group with its durable roster.
type Group struct {
	ID      string
	Name    string
	AdminID string
	Members []string
}

// Message is a persisted direct or group message. Exactly one of ReceiverID
// and GroupID is set.
type Message struct {
	ID             string
	SenderID       string
	ReceiverID     string
	GroupID        string
	Receivers      []string
	Text           string
	FileURLs       []string
	AudioURL       string
	ForwardedFrom  string
	Edited         bool
	Deleted        bool
	DeliveryStatus string
	SeenBy         []string
	CreatedAt      int64
}

// IsGroup reports whether m was sent to a group.
func (m *Message) IsGroup() bool { return m.GroupID != "" }

// Participants returns the sender followed by every recipient.
func (m *Message) Participants() []string {
	if m.IsGroup() {
		return append([]string{m.SenderID}, m.Receivers...)
	}
	return []string{m.SenderID, m.ReceiverID}
}

// HasParticipant reports whether user sent or received m.
func (m *Message) HasParticipant(user string) bool {
	for _, p := range m.Participants() {
		if p == user {
			return true
		}
	}
	return false
}

// Notification is an alert about a direct message.
type Notification struct {
	ID        string
	UserID    string
	SenderID  string
	MessageID string
	Type      string
	Body      string
	Read      bool
	CreatedAt int64
}

// GroupNotification is an alert about a group message.
type GroupNotification struct {
	ID        string
	UserID    string
	GroupID   string
	SenderID  string
	MessageID string
	Body      string
	Read      bool
	CreatedAt int64
}

// EmailEntry is a queued outgoing email.
type EmailEntry struct {
	ID           int64
	Recipient    string
	Subject      string
	Body         string
	Status       string
	Attempts     int
	ErrorMessage string
}
