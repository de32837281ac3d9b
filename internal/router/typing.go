package router

import (
	"context"

	"github.com/matheus3301/pulse/internal/fault"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Typing relays a typing indicator. Direct indicators go to the peer's
// sessions; group indicators go to the sessions subscribed to the group
// channel, except the typist's own. A typist outside the channel reaches
// nobody. Nothing is persisted.
func (r *Router) Typing(in protocol.Typing) int {
	typ := protocol.TypeTypingStart
	if in.Stop {
		typ = protocol.TypeTypingStop
	}
	evt := protocol.Outbound{
		Type: typ,
		Data: protocol.TypingNotice{FromUserID: in.FromUserID, GroupID: in.GroupID},
	}
	if in.GroupID == "" {
		return r.sessions.EmitUser(in.ToUserID, evt)
	}
	if !r.channels.IsMember(in.GroupID, in.FromUserID) {
		return 0
	}
	own := r.sessions.Resolve(in.FromUserID)
	targets := lo.Without(r.channels.Handles(in.GroupID), own...)
	return r.sessions.Emit(targets, evt)
}

// Signal relays a call negotiation message to every session of the target.
// The payload is opaque to the server and nothing is persisted. Blocked
// pairs cannot signal each other.
func (r *Router) Signal(ctx context.Context, in protocol.Signal) (int, error) {
	if in.FromUserID == in.ToUserID {
		return 0, fault.Payload("cannot signal yourself")
	}
	blocked, err := r.store.Blocked(ctx, in.FromUserID, in.ToUserID)
	if err != nil {
		return 0, fault.Wrap(err, "check blocks")
	}
	if blocked {
		return 0, fault.Blocked()
	}
	n := r.sessions.EmitUser(in.ToUserID, protocol.Outbound{
		Type: protocol.TypeCallSignal,
		Data: protocol.CallSignalNotice{FromUserID: in.FromUserID, CallID: in.CallID, Signal: in.Signal, Payload: in.Payload},
	})
	if n == 0 {
		r.logger.Debug("call signal to offline user", zap.String("from", in.FromUserID), zap.String("to", in.ToUserID), zap.String("signal", in.Signal))
	}
	return n, nil
}
