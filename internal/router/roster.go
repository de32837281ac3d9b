package router

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/fault"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/store"
	"github.com/samber/lo"
)

// AddMembers extends the roster of a group on behalf of its admin. Every
// user must exist. Each new member is told on their live sessions, and the
// group channel receives the new roster. Users already on the roster are
// skipped; when nobody is new nothing is emitted.
func (r *Router) AddMembers(ctx context.Context, in protocol.AddMembers) (*store.Group, error) {
	g, err := r.store.GetGroup(ctx, in.GroupID)
	if err != nil {
		return nil, fault.Wrap(err, "load group")
	}
	if g == nil {
		return nil, fault.GroupNotFound(in.GroupID)
	}
	if g.AdminID == "" || g.AdminID != in.AdminID {
		return nil, fault.New(fault.Forbidden, fault.CodeNotAdmin, "only the group admin can add members")
	}

	ids := lo.Uniq(in.UserIDs)
	for _, id := range ids {
		u, err := r.store.GetUser(ctx, id)
		if err != nil {
			return nil, fault.Wrap(err, "load user")
		}
		if u == nil {
			return nil, fault.New(fault.NotFound, fault.CodeUserNotFound, "user %q does not exist", id)
		}
	}
	added := lo.Without(ids, g.Members...)
	if len(added) == 0 {
		return g, nil
	}
	if err := r.store.AddGroupMembers(ctx, g.ID, added); err != nil {
		return nil, fault.Wrap(err, "add members")
	}
	g.Members = append(g.Members, added...)
	slices.Sort(g.Members)

	for _, u := range added {
		r.sessions.EmitUser(u, protocol.Outbound{
			Type: protocol.TypeMemberAdded,
			Data: protocol.MemberAdded{
				GroupID:   g.ID,
				GroupName: g.Name,
				Message:   fmt.Sprintf("You have been added to the group %q", g.Name),
				AddedBy:   in.AdminID,
				Members:   g.Members,
			},
		})
	}
	r.sessions.Emit(r.channels.Handles(g.ID), protocol.Outbound{
		Type: protocol.TypeGroupUpdate,
		Data: protocol.GroupUpdate{GroupID: g.ID, AdminID: g.AdminID, Members: g.Members, Added: added},
	})
	r.bus.Emit(bus.KindRosterChanged, bus.RosterChanged{GroupID: g.ID, AdminID: g.AdminID, Added: added})
	return g, nil
}

// ExitGroup takes a user off the roster of a group for good. The user's
// sessions stop listening to the group channel, and the remaining channel
// and the user's own sessions learn the new roster and admin.
func (r *Router) ExitGroup(ctx context.Context, in protocol.ExitGroup) (*store.Group, error) {
	g, err := r.store.GetGroup(ctx, in.GroupID)
	if err != nil {
		return nil, fault.Wrap(err, "load group")
	}
	if g == nil {
		return nil, fault.GroupNotFound(in.GroupID)
	}
	if !lo.Contains(g.Members, in.UserID) {
		return nil, fault.NotMember(in.UserID, in.GroupID)
	}

	admin, err := r.store.RemoveGroupMember(ctx, g.ID, in.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.NotMember(in.UserID, in.GroupID)
	}
	if err != nil {
		return nil, fault.Wrap(err, "remove member")
	}
	g.AdminID = admin
	g.Members = lo.Without(g.Members, in.UserID)

	if r.channels.Evict(g.ID, in.UserID) {
		r.bus.Emit(bus.KindChannelLeft, bus.Membership{GroupID: g.ID, UserID: in.UserID})
	}
	evt := protocol.Outbound{
		Type: protocol.TypeMemberLeft,
		Data: protocol.MemberLeft{GroupID: g.ID, UserID: in.UserID, AdminID: admin, Members: g.Members},
	}
	r.sessions.Emit(r.channels.Handles(g.ID), evt)
	r.sessions.EmitUser(in.UserID, evt)
	r.bus.Emit(bus.KindRosterChanged, bus.RosterChanged{GroupID: g.ID, AdminID: admin, Removed: in.UserID})
	return g, nil
}
