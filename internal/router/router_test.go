package router

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/channel"
	"github.com/matheus3301/pulse/internal/conversation"
	"github.com/matheus3301/pulse/internal/fault"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/registry"
	"github.com/matheus3301/pulse/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordSink struct {
	mu     sync.Mutex
	events []protocol.Outbound
}

func (s *recordSink) Send(evt protocol.Outbound) error {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
	return nil
}

func (s *recordSink) ofType(typ string) []protocol.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Outbound
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	db     *store.DB
	reg    *registry.Registry
	conv   *conversation.Tracker
	chans  *channel.Membership
	bus    *bus.Bus
	router *Router
	now    time.Time
	sinks  map[string]*recordSink
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "pulse.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		db:    db,
		reg:   registry.New(zap.NewNop()),
		conv:  conversation.NewTracker(),
		chans: channel.NewMembership(),
		bus:   bus.New(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		sinks: map[string]*recordSink{},
	}
	opts.Now = func() time.Time { return h.now }
	h.router = New(db, h.reg, h.conv, h.chans, h.bus, zap.NewNop(), opts)

	for _, u := range []string{"alice", "bob", "carol"} {
		require.NoError(t, db.PutUser(h.ctx, &store.User{ID: u, Name: u, Email: u + "@example.com"}))
	}
	return h
}

func (h *harness) connect(handle, user string) *recordSink {
	h.t.Helper()
	s := &recordSink{}
	require.NoError(h.t, h.reg.Open(handle, s))
	_, err := h.reg.Register(handle, user)
	require.NoError(h.t, err)
	h.sinks[handle] = s
	return s
}

func (h *harness) notifications(user, message string) int {
	h.t.Helper()
	var n int
	require.NoError(h.t, h.db.QueryRow(`
		SELECT (SELECT COUNT(*) FROM notifications WHERE user_id = ? AND message_id = ?)
		     + (SELECT COUNT(*) FROM group_notifications WHERE user_id = ? AND message_id = ?)`,
		user, message, user, message).Scan(&n))
	return n
}

func (h *harness) messageCount() int {
	h.t.Helper()
	var n int
	require.NoError(h.t, h.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n))
	return n
}

func TestDirectToOfflineReceiverNotifiesOnce(t *testing.T) {
	h := newHarness(t, Options{})
	sender := h.connect("a1", "alice")

	rc, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)

	assert.Zero(t, rc.Live)
	assert.Equal(t, 1, rc.Notified)
	assert.Equal(t, 1, h.notifications("bob", rc.Message.ID))
	assert.Empty(t, sender.ofType(protocol.TypeMessageReceive))
	require.Len(t, sender.ofType(protocol.TypeMessageSent), 1)

	stored, err := h.db.GetMessage(h.ctx, rc.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSent, stored.DeliveryStatus)
}

func TestDirectToTwoDevices(t *testing.T) {
	tests := []struct {
		name          string
		viewing       bool
		wantNotified  int
		wantNotifyEvt int
	}{
		{"viewing sender", true, 0, 1},
		{"elsewhere", false, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			d1 := h.connect("b1", "bob")
			d2 := h.connect("b2", "bob")
			if tt.viewing {
				h.conv.Set("bob", "alice")
			}

			rc, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "hi"})
			require.NoError(t, err)

			for _, d := range []*recordSink{d1, d2} {
				assert.Len(t, d.ofType(protocol.TypeMessageReceive), 1)
				assert.Len(t, d.ofType(protocol.TypeNotificationNew), tt.wantNotifyEvt)
			}
			assert.Equal(t, tt.wantNotified, h.notifications("bob", rc.Message.ID))
			assert.Equal(t, 1, rc.Live)
		})
	}
}

func TestDirectValidationOrder(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.db.Block(h.ctx, "bob", "alice"))

	_, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "ghost"})
	assert.Equal(t, fault.CodePayload, fault.CodeOf(err))

	_, err = h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "ghost", Text: "hi"})
	assert.Equal(t, fault.CodeRecipientNotFound, fault.CodeOf(err))

	// Blocked in the receiver-to-sender direction still applies.
	_, err = h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "hi"})
	assert.Equal(t, fault.CodeBlocked, fault.CodeOf(err))

	assert.Zero(t, h.messageCount())
}

func TestForwardRequiresParticipant(t *testing.T) {
	h := newHarness(t, Options{})
	orig, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "secret", FileURLs: []string{"https://f/1"}})
	require.NoError(t, err)

	_, err = h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "carol", ReceiverID: "alice", ForwardOf: orig.Message.ID})
	assert.Equal(t, fault.CodeNotParticipant, fault.CodeOf(err))

	fwd, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "bob", ReceiverID: "carol", ForwardOf: orig.Message.ID})
	require.NoError(t, err)
	assert.Equal(t, "secret", fwd.Message.Text)
	assert.Equal(t, orig.Message.ID, fwd.Message.ForwardedFrom)
	assert.Equal(t, []string{"https://f/1"}, fwd.Message.FileURLs)

	_, err = h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "bob", ReceiverID: "carol", ForwardOf: "missing"})
	assert.True(t, fault.Is(err, fault.NotFound))
}

func TestOfflineEmailQueued(t *testing.T) {
	h := newHarness(t, Options{EmailOffline: true})
	_, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)

	pending, err := h.db.PendingEmails(h.ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "bob@example.com", pending[0].Recipient)

	h.connect("b1", "bob")
	_, err = h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "again"})
	require.NoError(t, err)
	pending, _ = h.db.PendingEmails(h.ctx, 0)
	assert.Len(t, pending, 1, "online receivers get no email")
}

func TestOfflineEmailPreviewKeepsRunesWhole(t *testing.T) {
	h := newHarness(t, Options{EmailOffline: true})
	text := strings.Repeat("a", 139) + "é" + strings.Repeat("ü", 20)
	_, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: text})
	require.NoError(t, err)

	pending, err := h.db.PendingEmails(h.ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	body := pending[0].Body
	assert.True(t, utf8.ValidString(body))
	assert.Contains(t, body, strings.Repeat("a", 139)+"é...")
	assert.NotContains(t, body, "ü")
}

func TestGroupFanOut(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.db.PutGroup(h.ctx, &store.Group{ID: "g1", Members: []string{"alice", "bob", "carol"}}))
	b := h.connect("b1", "bob")
	a := h.connect("a1", "alice")

	rc, err := h.router.SendGroup(h.ctx, protocol.SendGroup{SenderID: "alice", GroupID: "g1", Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, []string{"bob", "carol"}, rc.Message.Receivers)
	assert.Equal(t, 1, rc.Live)
	assert.Equal(t, 2, rc.Notified)
	assert.Len(t, b.ofType(protocol.TypeGroupMessageReceive), 1)
	assert.Empty(t, a.ofType(protocol.TypeGroupMessageReceive))
	assert.Len(t, a.ofType(protocol.TypeMessageSent), 1)
	assert.Equal(t, 1, h.notifications("bob", rc.Message.ID))
	assert.Equal(t, 1, h.notifications("carol", rc.Message.ID))
	assert.Zero(t, h.notifications("alice", rc.Message.ID))
}

func TestGroupSendFromNonMember(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.db.PutGroup(h.ctx, &store.Group{ID: "g1", Members: []string{"alice", "bob"}}))

	_, err := h.router.SendGroup(h.ctx, protocol.SendGroup{SenderID: "carol", GroupID: "g1", Text: "hi"})
	assert.True(t, fault.Is(err, fault.NotAMember))
	assert.Zero(t, h.messageCount())

	_, err = h.router.SendGroup(h.ctx, protocol.SendGroup{SenderID: "alice", GroupID: "nope", Text: "hi"})
	assert.Equal(t, fault.CodeGroupNotFound, fault.CodeOf(err))
}

func TestSeenIsIdempotentAndTargetsSender(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.connect("a1", "alice")
	b := h.connect("b1", "bob")
	rc, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.router.MarkSeen(h.ctx, protocol.MarkSeen{MessageID: rc.Message.ID, ViewerID: "bob"}))
	}
	m, err := h.db.GetMessage(h.ctx, rc.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSeen, m.DeliveryStatus)
	assert.Equal(t, []string{"bob"}, m.SeenBy)
	assert.Len(t, a.ofType(protocol.TypeMessageStatus), 1)
	assert.Empty(t, b.ofType(protocol.TypeMessageStatus))

	// Delivered after seen does not regress the status.
	require.NoError(t, h.router.MarkDelivered(h.ctx, protocol.MarkDelivered{MessageID: rc.Message.ID, ViewerID: "bob"}))
	m, _ = h.db.GetMessage(h.ctx, rc.Message.ID)
	assert.Equal(t, store.StatusSeen, m.DeliveryStatus)

	err = h.router.MarkSeen(h.ctx, protocol.MarkSeen{MessageID: rc.Message.ID, ViewerID: "carol"})
	assert.True(t, fault.Is(err, fault.Forbidden))
	err = h.router.MarkSeen(h.ctx, protocol.MarkSeen{MessageID: "missing", ViewerID: "bob"})
	assert.True(t, fault.Is(err, fault.NotFound))
}

func TestEditWindowBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr fault.Kind
	}{
		{"fresh", time.Minute, 0},
		{"exactly at window end", 10 * time.Minute, 0},
		{"just past", 10*time.Minute + time.Millisecond, fault.ExpiredWindow},
		{"eleven minutes", 11 * time.Minute, fault.ExpiredWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			rc, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "hi"})
			require.NoError(t, err)
			h.now = h.now.Add(tt.elapsed)

			editErr := h.router.Edit(h.ctx, protocol.EditMessage{MessageID: rc.Message.ID, RequesterID: "alice", Text: "fixed"})
			delErr := h.router.Delete(h.ctx, protocol.DeleteMessage{MessageID: rc.Message.ID, RequesterID: "alice", Mode: protocol.DeleteForEveryone})
			if tt.wantErr == 0 {
				assert.NoError(t, editErr)
				assert.NoError(t, delErr)
				return
			}
			assert.True(t, fault.Is(editErr, tt.wantErr), "edit: %v", editErr)
			assert.True(t, fault.Is(delErr, tt.wantErr), "delete: %v", delErr)
		})
	}
}

func TestEditChecksOwnerAndBroadcasts(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.connect("a1", "alice")
	b := h.connect("b1", "bob")
	rc, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)

	err = h.router.Edit(h.ctx, protocol.EditMessage{MessageID: rc.Message.ID, RequesterID: "bob", Text: "hijack"})
	assert.Equal(t, fault.CodeNotOwner, fault.CodeOf(err))

	require.NoError(t, h.router.Edit(h.ctx, protocol.EditMessage{MessageID: rc.Message.ID, RequesterID: "alice", Text: "hello"}))
	assert.Len(t, a.ofType(protocol.TypeMessageUpdated), 1)
	assert.Len(t, b.ofType(protocol.TypeMessageUpdated), 1)

	m, _ := h.db.GetMessage(h.ctx, rc.Message.ID)
	assert.True(t, m.Edited)
	assert.Equal(t, "hello", m.Text)
}

func TestDeleteModes(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.connect("a1", "alice")
	b := h.connect("b1", "bob")
	rc, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)

	// Deleting for me has no window and only tells the requester.
	h.now = h.now.Add(time.Hour)
	require.NoError(t, h.router.Delete(h.ctx, protocol.DeleteMessage{MessageID: rc.Message.ID, RequesterID: "bob", Mode: protocol.DeleteForMe}))
	assert.Len(t, b.ofType(protocol.TypeMessageDeleted), 1)
	assert.Empty(t, a.ofType(protocol.TypeMessageDeleted))
	hidden, err := h.db.DeletedFor(h.ctx, rc.Message.ID, "bob")
	require.NoError(t, err)
	assert.True(t, hidden)

	err = h.router.Delete(h.ctx, protocol.DeleteMessage{MessageID: rc.Message.ID, RequesterID: "carol", Mode: protocol.DeleteForMe})
	assert.True(t, fault.Is(err, fault.Forbidden))

	h.now = h.now.Add(-time.Hour)
	require.NoError(t, h.router.Delete(h.ctx, protocol.DeleteMessage{MessageID: rc.Message.ID, RequesterID: "alice", Mode: protocol.DeleteForEveryone}))
	assert.Len(t, a.ofType(protocol.TypeMessageDeleted), 1)
	m, _ := h.db.GetMessage(h.ctx, rc.Message.ID)
	assert.True(t, m.Deleted)
	assert.Empty(t, m.Text)

	// An edit arriving after the delete fails its own existence check.
	err = h.router.Edit(h.ctx, protocol.EditMessage{MessageID: rc.Message.ID, RequesterID: "alice", Text: "late"})
	assert.True(t, fault.Is(err, fault.NotFound))
}

func TestTypingScopes(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.connect("a1", "alice")
	b := h.connect("b1", "bob")
	c := h.connect("c1", "carol")
	h.chans.Join("g1", "alice", "a1")
	h.chans.Join("g1", "bob", "b1")

	assert.Equal(t, 1, h.router.Typing(protocol.Typing{FromUserID: "alice", ToUserID: "carol"}))
	assert.Len(t, c.ofType(protocol.TypeTypingStart), 1)

	assert.Equal(t, 1, h.router.Typing(protocol.Typing{Stop: true, FromUserID: "alice", GroupID: "g1"}))
	assert.Len(t, b.ofType(protocol.TypeTypingStop), 1)
	assert.Empty(t, a.ofType(protocol.TypeTypingStop))
	assert.Empty(t, c.ofType(protocol.TypeTypingStop))

	// carol never joined the channel.
	assert.Zero(t, h.router.Typing(protocol.Typing{FromUserID: "carol", GroupID: "g1"}))
	assert.Empty(t, b.ofType(protocol.TypeTypingStart))
}

func TestForwardHiddenForRequester(t *testing.T) {
	h := newHarness(t, Options{})
	orig, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "secret"})
	require.NoError(t, err)
	require.NoError(t, h.router.Delete(h.ctx, protocol.DeleteMessage{MessageID: orig.Message.ID, RequesterID: "bob", Mode: protocol.DeleteForMe}))

	_, err = h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "bob", ReceiverID: "carol", ForwardOf: orig.Message.ID})
	assert.Equal(t, fault.CodeMessageNotFound, fault.CodeOf(err))

	_, err = h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "carol", ForwardOf: orig.Message.ID})
	assert.NoError(t, err)
}

// deletingStore tombstones the message between the router's load and its
// edit.
type deletingStore struct {
	*store.DB
}

func (s deletingStore) EditMessage(ctx context.Context, id, text string) error {
	if err := s.Tombstone(ctx, id); err != nil {
		return err
	}
	return s.DB.EditMessage(ctx, id, text)
}

func TestEditLosesRaceWithDelete(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.connect("a1", "alice")
	rc, err := h.router.SendDirect(h.ctx, protocol.SendDirect{SenderID: "alice", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)

	rt := New(deletingStore{h.db}, h.reg, h.conv, h.chans, h.bus, zap.NewNop(), Options{Now: func() time.Time { return h.now }})
	err = rt.Edit(h.ctx, protocol.EditMessage{MessageID: rc.Message.ID, RequesterID: "alice", Text: "late"})
	assert.Equal(t, fault.CodeMessageNotFound, fault.CodeOf(err))
	assert.Empty(t, a.ofType(protocol.TypeMessageUpdated))

	m, err := h.db.GetMessage(h.ctx, rc.Message.ID)
	require.NoError(t, err)
	assert.False(t, m.Edited)
}

func TestAddMembers(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.db.PutUser(h.ctx, &store.User{ID: "dave", Name: "dave"}))
	require.NoError(t, h.db.PutGroup(h.ctx, &store.Group{ID: "g1", Name: "team", AdminID: "alice", Members: []string{"alice", "bob"}}))
	h.connect("a1", "alice")
	b := h.connect("b1", "bob")
	c := h.connect("c1", "carol")
	h.chans.Join("g1", "bob", "b1")
	events, unsub := h.bus.Subscribe(bus.KindRosterChanged, 4)
	defer unsub()

	_, err := h.router.AddMembers(h.ctx, protocol.AddMembers{GroupID: "g1", AdminID: "bob", UserIDs: []string{"carol"}})
	assert.Equal(t, fault.CodeNotAdmin, fault.CodeOf(err))
	_, err = h.router.AddMembers(h.ctx, protocol.AddMembers{GroupID: "g1", AdminID: "alice", UserIDs: []string{"carol", "zed"}})
	assert.Equal(t, fault.CodeUserNotFound, fault.CodeOf(err))
	_, err = h.router.AddMembers(h.ctx, protocol.AddMembers{GroupID: "nope", AdminID: "alice", UserIDs: []string{"carol"}})
	assert.Equal(t, fault.CodeGroupNotFound, fault.CodeOf(err))

	g, err := h.router.AddMembers(h.ctx, protocol.AddMembers{GroupID: "g1", AdminID: "alice", UserIDs: []string{"carol", "bob", "carol", "dave"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, g.Members)

	added := c.ofType(protocol.TypeMemberAdded)
	require.Len(t, added, 1)
	notice := added[0].Data.(protocol.MemberAdded)
	assert.Equal(t, "alice", notice.AddedBy)
	assert.Contains(t, notice.Message, "team")
	assert.Empty(t, b.ofType(protocol.TypeMemberAdded))

	updates := b.ofType(protocol.TypeGroupUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"carol", "dave"}, updates[0].Data.(protocol.GroupUpdate).Added)

	stored, err := h.db.GetGroup(h.ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, g.Members, stored.Members)

	select {
	case e := <-events:
		assert.Equal(t, []string{"carol", "dave"}, e.Payload.(bus.RosterChanged).Added)
	case <-time.After(time.Second):
		t.Fatal("no roster event")
	}

	// Nobody new: no events.
	_, err = h.router.AddMembers(h.ctx, protocol.AddMembers{GroupID: "g1", AdminID: "alice", UserIDs: []string{"bob"}})
	require.NoError(t, err)
	assert.Len(t, b.ofType(protocol.TypeGroupUpdate), 1)
}

func TestExitGroupReassignsAdmin(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.db.PutGroup(h.ctx, &store.Group{ID: "g1", Name: "team", AdminID: "alice", Members: []string{"alice", "bob"}}))
	a := h.connect("a1", "alice")
	h.connect("a2", "alice")
	b := h.connect("b1", "bob")
	h.chans.Join("g1", "alice", "a1")
	h.chans.Join("g1", "alice", "a2")
	h.chans.Join("g1", "bob", "b1")

	_, err := h.router.ExitGroup(h.ctx, protocol.ExitGroup{GroupID: "g1", UserID: "carol"})
	assert.True(t, fault.Is(err, fault.NotAMember))

	g, err := h.router.ExitGroup(h.ctx, protocol.ExitGroup{GroupID: "g1", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "bob", g.AdminID)
	assert.Equal(t, []string{"bob"}, g.Members)
	assert.False(t, h.chans.IsMember("g1", "alice"))
	assert.Equal(t, []string{"b1"}, h.chans.Handles("g1"))

	left := b.ofType(protocol.TypeMemberLeft)
	require.Len(t, left, 1)
	assert.Equal(t, protocol.MemberLeft{GroupID: "g1", UserID: "alice", AdminID: "bob", Members: []string{"bob"}}, left[0].Data)
	assert.Len(t, a.ofType(protocol.TypeMemberLeft), 1)

	_, err = h.router.SendGroup(h.ctx, protocol.SendGroup{SenderID: "alice", GroupID: "g1", Text: "still here?"})
	assert.True(t, fault.Is(err, fault.NotAMember))
}

func TestSignalRelay(t *testing.T) {
	h := newHarness(t, Options{})
	h.connect("a1", "alice")
	b1 := h.connect("b1", "bob")
	b2 := h.connect("b2", "bob")

	n, err := h.router.Signal(h.ctx, protocol.Signal{FromUserID: "alice", ToUserID: "bob", CallID: "call-1", Signal: protocol.SignalICECandidate})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, b1.ofType(protocol.TypeCallSignal), 1)
	assert.Len(t, b2.ofType(protocol.TypeCallSignal), 1)

	_, err = h.router.Signal(h.ctx, protocol.Signal{FromUserID: "alice", ToUserID: "alice", Signal: protocol.SignalOffer})
	assert.True(t, fault.Is(err, fault.Validation))

	require.NoError(t, h.db.Block(h.ctx, "bob", "alice"))
	_, err = h.router.Signal(h.ctx, protocol.Signal{FromUserID: "alice", ToUserID: "bob", Signal: protocol.SignalOffer})
	assert.Equal(t, fault.CodeBlocked, fault.CodeOf(err))
	assert.Len(t, b1.ofType(protocol.TypeCallSignal), 1)
}
