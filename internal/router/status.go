package router

import (
	"context"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/fault"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/store"
	"github.com/samber/lo"
)

// MarkSeen records that the viewer has seen the message and tells the
// sender. Repeating it is a no-op.
func (r *Router) MarkSeen(ctx context.Context, in protocol.MarkSeen) error {
	m, err := r.recipientMessage(ctx, in.MessageID, in.ViewerID)
	if err != nil {
		return err
	}
	added, err := r.store.MarkSeen(ctx, m.ID, in.ViewerID)
	if err != nil {
		return fault.Wrap(err, "mark seen")
	}
	if !added {
		return nil
	}
	r.sessions.EmitUser(m.SenderID, protocol.Outbound{
		Type: protocol.TypeMessageStatus,
		Data: protocol.MessageStatus{MessageID: m.ID, DeliveryStatus: store.StatusSeen, By: in.ViewerID},
	})
	r.bus.Emit(bus.KindMessageStatus, bus.MessageRef{MessageID: m.ID, UserID: in.ViewerID, Detail: store.StatusSeen})
	return nil
}

// MarkDelivered advances a sent message to delivered once a recipient's
// client has it. Messages already delivered or seen are left alone.
func (r *Router) MarkDelivered(ctx context.Context, in protocol.MarkDelivered) error {
	m, err := r.recipientMessage(ctx, in.MessageID, in.ViewerID)
	if err != nil {
		return err
	}
	changed, err := r.store.MarkDelivered(ctx, m.ID)
	if err != nil {
		return fault.Wrap(err, "mark delivered")
	}
	if !changed {
		return nil
	}
	r.sessions.EmitUser(m.SenderID, protocol.Outbound{
		Type: protocol.TypeMessageStatus,
		Data: protocol.MessageStatus{MessageID: m.ID, DeliveryStatus: store.StatusDelivered, By: in.ViewerID},
	})
	r.bus.Emit(bus.KindMessageStatus, bus.MessageRef{MessageID: m.ID, UserID: in.ViewerID, Detail: store.StatusDelivered})
	return nil
}

func (r *Router) recipientMessage(ctx context.Context, id, viewer string) (*store.Message, error) {
	m, err := r.store.GetMessage(ctx, id)
	if err != nil {
		return nil, fault.Wrap(err, "load message")
	}
	if m == nil {
		return nil, fault.MessageNotFound(id)
	}
	isRecipient := m.ReceiverID == viewer || (m.IsGroup() && lo.Contains(m.Receivers, viewer))
	if !isRecipient {
		return nil, fault.New(fault.Forbidden, fault.CodeNotParticipant, "only a recipient can acknowledge a message")
	}
	return m, nil
}
