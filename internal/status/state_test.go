package status

import (
	"testing"

	"github.com/matheus3301/pulse/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
	if m.Accepting() {
		t.Error("Accepting() = true while booting")
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Serving},
		{Booting, Error},
		{Serving, Draining},
		{Serving, Error},
		{Draining, Stopped},
		{Error, Booting},
		{Error, Stopped},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Draining); err == nil {
		t.Error("Transition(BOOTING -> DRAINING) should fail")
	}
	walkTo(t, m, Stopped)
	if err := m.Transition(Serving); err == nil {
		t.Error("STOPPED must be terminal")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("daemon.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Serving); err != nil {
		t.Fatal(err)
	}
	if !m.Accepting() {
		t.Error("Accepting() = false while serving")
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Serving {
		t.Errorf("change = %v -> %v, want BOOTING -> SERVING", change.From, change.To)
	}
}

// TestGracefulShutdownLifecycle walks the normal daemon lifetime:
// BOOTING → SERVING → DRAINING → STOPPED
func TestGracefulShutdownLifecycle(t *testing.T) {
	m := NewMachine(nil)
	for _, s := range []State{Serving, Draining, Stopped} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:  {},
		Serving:  {Serving},
		Draining: {Serving, Draining},
		Stopped:  {Serving, Draining, Stopped},
		Error:    {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
