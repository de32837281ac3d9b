package router

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/fault"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/store"
	"go.uber.org/zap"
)

// SendDirect persists a direct message and routes it to the receiver.
// Success means the message is durably recorded, not that it was received.
func (r *Router) SendDirect(ctx context.Context, in protocol.SendDirect) (*Receipt, error) {
	if !hasContent(in.Text, in.FileURLs, in.AudioURL) && in.ForwardOf == "" {
		return nil, fault.Payload("text, attachment or forward source required")
	}

	receiver, err := r.store.GetUser(ctx, in.ReceiverID)
	if err != nil {
		return nil, fault.Wrap(err, "load receiver")
	}
	if receiver == nil {
		return nil, fault.RecipientNotFound(in.ReceiverID)
	}
	blocked, err := r.store.Blocked(ctx, in.SenderID, in.ReceiverID)
	if err != nil {
		return nil, fault.Wrap(err, "check blocks")
	}
	if blocked {
		return nil, fault.Blocked()
	}

	m := &store.Message{
		ID:         r.newID(),
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Text:       in.Text,
		FileURLs:   in.FileURLs,
		AudioURL:   in.AudioURL,
		CreatedAt:  r.opts.Now().UnixMilli(),
	}
	if in.ForwardOf != "" {
		if err := r.copyForwarded(ctx, in.SenderID, in.ForwardOf, m); err != nil {
			return nil, err
		}
	}

	if err := r.store.InsertMessage(ctx, m); err != nil {
		return nil, fault.Wrap(err, "insert message")
	}

	senderName := r.displayName(ctx, in.SenderID)
	res, err := r.deliverOrNotify(ctx, in.ReceiverID, m, senderName, directDelivery)
	if err != nil {
		r.logger.Error("failed to persist notification", zap.String("message", m.ID), zap.Error(err))
	}
	if !res.live {
		r.queueEmail(ctx, receiver, senderName, m)
	}

	receipt := &Receipt{Message: m}
	if res.live {
		receipt.Live = 1
	}
	if res.notified {
		receipt.Notified = 1
	}
	r.sessions.EmitUser(in.SenderID, protocol.Outbound{
		Type: protocol.TypeMessageSent,
		Data: protocol.MessageSent{MessageID: m.ID, Live: receipt.Live},
	})
	r.bus.Emit(bus.KindMessageSent, bus.MessageSent{MessageID: m.ID, SenderID: m.SenderID, Recipients: 1, Live: receipt.Live})
	return receipt, nil
}

// copyForwarded fills the content of m from the forwarded message. Content
// given with the send wins over the original's.
func (r *Router) copyForwarded(ctx context.Context, requester, sourceID string, m *store.Message) error {
	src, err := r.store.GetMessage(ctx, sourceID)
	if err != nil {
		return fault.Wrap(err, "load forward source")
	}
	if src == nil || src.Deleted {
		return fault.MessageNotFound(sourceID)
	}
	if !src.HasParticipant(requester) {
		return fault.New(fault.Forbidden, fault.CodeNotParticipant, "cannot forward a message you did not send or receive")
	}
	hidden, err := r.store.DeletedFor(ctx, src.ID, requester)
	if err != nil {
		return fault.Wrap(err, "check deleted for requester")
	}
	if hidden {
		return fault.MessageNotFound(sourceID)
	}
	m.ForwardedFrom = src.ID
	if !hasContent(m.Text, m.FileURLs, m.AudioURL) {
		m.Text = src.Text
		m.FileURLs = src.FileURLs
		m.AudioURL = src.AudioURL
	}
	if !hasContent(m.Text, m.FileURLs, m.AudioURL) {
		return fault.Payload("forward source has no content")
	}
	return nil
}

func (r *Router) queueEmail(ctx context.Context, receiver *store.User, senderName string, m *store.Message) {
	if !r.opts.EmailOffline || receiver.Email == "" {
		return
	}
	preview := truncate(m.Text, emailPreviewRunes)
	body := senderName + " sent you a message while you were away."
	if preview != "" {
		body += "\n\n" + preview
	}
	id, err := r.store.QueueEmail(ctx, receiver.Email, "New message from "+senderName, body)
	if err != nil {
		r.logger.Warn("failed to queue email", zap.String("user", receiver.ID), zap.Error(err))
		return
	}
	r.bus.Emit(bus.KindMailQueued, bus.Mail{ID: id, Recipient: receiver.Email})
}

const emailPreviewRunes = 140

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func hasContent(text string, files []string, audio string) bool {
	return strings.TrimSpace(text) != "" || len(files) > 0 || audio != ""
}
