package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("send: %w", RecipientNotFound("u1"))
	if KindOf(err) != NotFound {
		t.Errorf("KindOf = %v, want NotFound", KindOf(err))
	}
	if CodeOf(err) != CodeRecipientNotFound {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodeRecipientNotFound)
	}
}

func TestWrapKeepsExistingFault(t *testing.T) {
	orig := Blocked()
	if got := Wrap(orig, "send"); got != orig {
		t.Errorf("Wrap replaced an existing fault: %v", got)
	}
}

func TestWrapMarksUpstream(t *testing.T) {
	base := errors.New("disk I/O error")
	err := Wrap(base, "insert message")
	if !Is(err, Upstream) {
		t.Fatalf("Wrap kind = %v, want Upstream", KindOf(err))
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error lost its cause")
	}
	var fe *Error
	if !errors.As(err, &fe) || !fe.Retryable() {
		t.Error("upstream errors must be retryable")
	}
	if Wrap(nil, "noop") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Payload("text or attachment required"), "validation/payload: text or attachment required"},
		{Expired("edit"), "expired_window: edit is only allowed within the edit window"},
		{&Error{Kind: Upstream, Msg: "load", Err: errors.New("boom")}, "upstream_unavailable: load: boom"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
