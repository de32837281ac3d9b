package registry

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/matheus3301/pulse/internal/fault"
	"github.com/matheus3301/pulse/internal/protocol"
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

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (l *changeLog) record(c Change) {
	l.mu.Lock()
	l.changes = append(l.changes, c)
	l.mu.Unlock()
}

func newTestRegistry(t *testing.T) (*Registry, *changeLog) {
	t.Helper()
	r := New(zap.NewNop())
	log := &changeLog{}
	r.SetListener(log.record)
	return r, log
}

func TestRegisterIsIdempotent(t *testing.T) {
	r, log := newTestRegistry(t)
	require.NoError(t, r.Open("s1", &recordSink{}))

	c, err := r.Register("s1", "u1")
	require.NoError(t, err)
	assert.True(t, c.Online)

	c, err = r.Register("s1", "u1")
	require.NoError(t, err)
	assert.True(t, c.IsZero())
	assert.Len(t, log.changes, 1)
	assert.Equal(t, []string{"s1"}, r.Resolve("u1"))
}

func TestRegisterConflictAndUnknownHandle(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Open("s1", &recordSink{}))
	_, err := r.Register("s1", "u1")
	require.NoError(t, err)

	_, err = r.Register("s1", "u2")
	assert.True(t, fault.Is(err, fault.Conflict))
	assert.Equal(t, fault.CodeSessionBound, fault.CodeOf(err))

	_, err = r.Register("missing", "u1")
	assert.True(t, fault.Is(err, fault.NotFound))

	assert.True(t, fault.Is(r.Open("s1", &recordSink{}), fault.Conflict))
}

func TestUnregisterAllowsRebinding(t *testing.T) {
	r, log := newTestRegistry(t)
	require.NoError(t, r.Open("s1", &recordSink{}))
	_, err := r.Register("s1", "u1")
	require.NoError(t, err)

	prev, c, ok := r.Unregister("s1")
	require.True(t, ok)
	assert.Equal(t, "u1", prev.UserID)
	assert.False(t, c.Online)

	_, err = r.Register("s1", "u2")
	require.NoError(t, err)
	_, stillOpen := r.Lookup("s1")
	assert.True(t, stillOpen)
	assert.Len(t, log.changes, 3)
}

func TestDropUnknownHandleIsNoop(t *testing.T) {
	r, log := newTestRegistry(t)
	_, c, ok := r.Drop("never-opened")
	assert.False(t, ok)
	assert.True(t, c.IsZero())

	require.NoError(t, r.Open("s1", &recordSink{}))
	_, c, ok = r.Drop("s1")
	assert.True(t, ok)
	assert.True(t, c.IsZero(), "unregistered session must not change presence")
	assert.Empty(t, log.changes)
}

func TestSecondSessionKeepsUserOnline(t *testing.T) {
	r, log := newTestRegistry(t)
	for _, h := range []string{"s1", "s2"} {
		require.NoError(t, r.Open(h, &recordSink{}))
		_, err := r.Register(h, "u1")
		require.NoError(t, err)
	}

	_, c, _ := r.Drop("s1")
	assert.True(t, c.IsZero())
	assert.True(t, r.Online("u1"))

	_, c, _ = r.Drop("s2")
	assert.False(t, c.Online)
	assert.False(t, r.Online("u1"))
	assert.Empty(t, r.Resolve("u1"))
	assert.Equal(t, Stats{}, r.Stats())

	require.Len(t, log.changes, 2)
	assert.Less(t, log.changes[0].Version, log.changes[1].Version)
}

func TestRandomSequencesMatchNetEffect(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		r, log := newTestRegistry(t)
		users := []string{"a", "b", "c"}
		live := map[string]map[string]bool{}
		for i := 0; i < 200; i++ {
			h := fmt.Sprintf("s%d", rng.Intn(8))
			u := users[rng.Intn(len(users))]
			switch rng.Intn(3) {
			case 0:
				if r.Open(h, &recordSink{}) != nil {
					continue
				}
			case 1:
				if _, err := r.Register(h, u); err == nil {
					if live[u] == nil {
						live[u] = map[string]bool{}
					}
					live[u][h] = true
				}
			case 2:
				if s, _, ok := r.Drop(h); ok && s.UserID != "" {
					delete(live[s.UserID], h)
				}
			}
		}
		for _, u := range users {
			assert.Equal(t, len(live[u]) > 0, r.Online(u), "round %d user %s", round, u)
			assert.Len(t, r.Resolve(u), len(live[u]))
		}
		last := map[string]bool{}
		for _, c := range log.changes {
			assert.NotEqual(t, last[c.UserID], c.Online, "duplicate flip for %s", c.UserID)
			last[c.UserID] = c.Online
		}
		for _, u := range users {
			assert.Equal(t, r.Online(u), last[u])
		}
	}
}

func TestConcurrentRegisterDropFlipsOncePerTransition(t *testing.T) {
	r, log := newTestRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := fmt.Sprintf("s%d", i)
			if err := r.Open(h, &recordSink{}); err != nil {
				t.Error(err)
				return
			}
			if _, err := r.Register(h, "u1"); err != nil {
				t.Error(err)
			}
			if i%2 == 0 {
				r.Drop(h)
			}
		}(i)
	}
	wg.Wait()

	assert.True(t, r.Online("u1"))
	assert.Len(t, r.Resolve("u1"), 16)
	online := 0
	for _, c := range log.changes {
		if c.Online {
			online++
		} else {
			online--
		}
	}
	assert.Equal(t, 1, online, "net presence flips must leave the user online")
}

func TestEmitAndBroadcast(t *testing.T) {
	r, _ := newTestRegistry(t)
	sinks := map[string]*recordSink{}
	for _, h := range []string{"s1", "s2", "s3"} {
		sinks[h] = &recordSink{}
		require.NoError(t, r.Open(h, sinks[h]))
	}
	_, err := r.Register("s1", "u1")
	require.NoError(t, err)
	_, err = r.Register("s2", "u1")
	require.NoError(t, err)

	assert.Equal(t, 2, r.EmitUser("u1", protocol.Outbound{Type: protocol.TypeMessageReceive}))
	assert.Equal(t, 0, r.EmitUser("nobody", protocol.Outbound{Type: protocol.TypeMessageReceive}))
	assert.Equal(t, 2, r.Broadcast(protocol.Outbound{Type: protocol.TypeUserStatus}, "s1"))

	assert.Equal(t, 1, sinks["s1"].count())
	assert.Equal(t, 2, sinks["s2"].count())
	assert.Equal(t, 1, sinks["s3"].count())
	assert.Equal(t, []string{"u1"}, r.OnlineUsers())
}
