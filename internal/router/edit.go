package router

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/fault"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/store"
)

// Edit replaces the text of a message. Only the sender may edit, and only
// within the edit window; the window end itself is still allowed.
func (r *Router) Edit(ctx context.Context, in protocol.EditMessage) error {
	m, err := r.ownedMessage(ctx, in.MessageID, in.RequesterID, "edit")
	if err != nil {
		return err
	}
	if err := r.store.EditMessage(ctx, m.ID, in.Text); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted for everyone after it was loaded.
			return fault.MessageNotFound(m.ID)
		}
		return fault.Wrap(err, "edit message")
	}
	r.emitParticipants(m, protocol.Outbound{
		Type: protocol.TypeMessageUpdated,
		Data: protocol.MessageUpdated{MessageID: m.ID, Text: in.Text},
	})
	r.bus.Emit(bus.KindMessageEdited, bus.MessageRef{MessageID: m.ID, UserID: in.RequesterID})
	return nil
}

// Delete removes a message for the requester only, or tombstones it for
// every participant.
func (r *Router) Delete(ctx context.Context, in protocol.DeleteMessage) error {
	if in.Mode == protocol.DeleteForMe {
		return r.deleteForMe(ctx, in)
	}
	m, err := r.ownedMessage(ctx, in.MessageID, in.RequesterID, "delete for everyone")
	if err != nil {
		return err
	}
	if err := r.store.Tombstone(ctx, m.ID); err != nil {
		return fault.Wrap(err, "tombstone message")
	}
	r.emitParticipants(m, protocol.Outbound{
		Type: protocol.TypeMessageDeleted,
		Data: protocol.MessageDeleted{MessageID: m.ID, Mode: protocol.DeleteForEveryone},
	})
	r.bus.Emit(bus.KindMessageDeleted, bus.MessageRef{MessageID: m.ID, UserID: in.RequesterID, Detail: protocol.DeleteForEveryone})
	return nil
}

func (r *Router) deleteForMe(ctx context.Context, in protocol.DeleteMessage) error {
	m, err := r.store.GetMessage(ctx, in.MessageID)
	if err != nil {
		return fault.Wrap(err, "load message")
	}
	if m == nil {
		return fault.MessageNotFound(in.MessageID)
	}
	if !m.HasParticipant(in.RequesterID) {
		return fault.New(fault.Forbidden, fault.CodeNotParticipant, "message is not part of your conversations")
	}
	if err := r.store.DeleteForUser(ctx, m.ID, in.RequesterID); err != nil {
		return fault.Wrap(err, "delete for user")
	}
	r.sessions.EmitUser(in.RequesterID, protocol.Outbound{
		Type: protocol.TypeMessageDeleted,
		Data: protocol.MessageDeleted{MessageID: m.ID, Mode: protocol.DeleteForMe},
	})
	r.bus.Emit(bus.KindMessageDeleted, bus.MessageRef{MessageID: m.ID, UserID: in.RequesterID, Detail: protocol.DeleteForMe})
	return nil
}

// ownedMessage loads a live message and checks ownership and the edit window.
func (r *Router) ownedMessage(ctx context.Context, id, requester, op string) (*store.Message, error) {
	m, err := r.store.GetMessage(ctx, id)
	if err != nil {
		return nil, fault.Wrap(err, "load message")
	}
	if m == nil || m.Deleted {
		return nil, fault.MessageNotFound(id)
	}
	if m.SenderID != requester {
		return nil, fault.New(fault.Forbidden, fault.CodeNotOwner, "only the sender can %s a message", op)
	}
	elapsed := r.opts.Now().Sub(time.UnixMilli(m.CreatedAt))
	if elapsed > r.opts.EditWindow {
		return nil, fault.Expired(op)
	}
	return m, nil
}
