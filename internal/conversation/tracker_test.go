package conversation

import "testing"

func TestTracker(t *testing.T) {
	tr := NewTracker()
	if tr.IsActive("u1", "u2") {
		t.Fatal("empty tracker reports active conversation")
	}

	tr.Set("u1", "u2")
	if !tr.IsActive("u1", "u2") {
		t.Error("IsActive(u1, u2) = false after Set")
	}
	if tr.IsActive("u2", "u1") {
		t.Error("active conversation must not be symmetric")
	}

	tr.Set("u1", "u3")
	if tr.IsActive("u1", "u2") {
		t.Error("Set must replace the previous peer")
	}
	if !tr.IsActive("u1", "u3") || tr.Len() != 1 {
		t.Errorf("IsActive(u1, u3) = %v, Len() = %d", tr.IsActive("u1", "u3"), tr.Len())
	}

	tr.Clear("u1")
	tr.Clear("never-set")
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", tr.Len())
	}
}

func TestSetIgnoresEmptyIdentities(t *testing.T) {
	tr := NewTracker()
	tr.Set("", "u2")
	tr.Set("u1", "")
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}
