package mail

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/matheus3301/pulse/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
)

func TestNewSMTPDisabledWithoutHost(t *testing.T) {
	m, err := NewSMTP(config.Mail{})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNewSMTPRejectsBadPort(t *testing.T) {
	_, err := NewSMTP(config.Mail{Host: "relay.local", Port: 70000})
	assert.Error(t, err)
}

func render(t *testing.T, msg *gomail.Msg) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func TestSendEncodesHeaders(t *testing.T) {
	m, err := NewSMTP(config.Mail{Host: "relay.local", Port: 2525, From: "pulse@example.com", Username: "u", Password: "p"})
	require.NoError(t, err)
	require.NotNil(t, m)

	var sent *gomail.Msg
	m.send = func(_ context.Context, msg *gomail.Msg) error {
		sent = msg
		return nil
	}

	require.NoError(t, m.Send(context.Background(), "bob@example.com", "New message from José", "line one\nline two"))
	require.NotNil(t, sent)

	raw := render(t, sent)
	assert.Contains(t, raw, "=?UTF-8?q?New_message_from_Jos=C3=A9?=")
	assert.NotContains(t, raw, "José")
	assert.Contains(t, raw, "Message-ID: <")
	assert.Contains(t, raw, "<bob@example.com>")
	assert.Contains(t, raw, "line one")
}

func TestSenderFallsBackToRelayDomain(t *testing.T) {
	m, err := NewSMTP(config.Mail{Host: "relay.local"})
	require.NoError(t, err)
	assert.Equal(t, "pulse@relay.local", m.from)
}

func TestSendWrapsRelayError(t *testing.T) {
	m, err := NewSMTP(config.Mail{Host: "relay.local", Port: 25})
	require.NoError(t, err)
	relayErr := errors.New("421 service not available")
	m.send = func(context.Context, *gomail.Msg) error { return relayErr }

	assert.ErrorIs(t, m.Send(context.Background(), "bob@example.com", "s", "b"), relayErr)
}

func TestSendRejectsBadRecipient(t *testing.T) {
	m, err := NewSMTP(config.Mail{Host: "relay.local", Port: 25})
	require.NoError(t, err)
	called := false
	m.send = func(context.Context, *gomail.Msg) error {
		called = true
		return nil
	}

	assert.Error(t, m.Send(context.Background(), "not an address", "s", "b"))
	assert.False(t, called)
}

type ctxKey struct{}

func TestSendPassesContextToRelay(t *testing.T) {
	m, err := NewSMTP(config.Mail{Host: "relay.local", Port: 25})
	require.NoError(t, err)

	var got any
	m.send = func(ctx context.Context, _ *gomail.Msg) error {
		got = ctx.Value(ctxKey{})
		return ctx.Err()
	}
	ctx := context.WithValue(context.Background(), ctxKey{}, "outbox")
	require.NoError(t, m.Send(ctx, "bob@example.com", "s", "b"))
	assert.Equal(t, "outbox", got)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	got = nil
	assert.ErrorIs(t, m.Send(cancelled, "bob@example.com", "s", "b"), context.Canceled)
	assert.Nil(t, got, "relay is not contacted once the context is done")
}
