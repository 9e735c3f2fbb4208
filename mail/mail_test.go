package mail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"creditflow/config"
)

func TestComposer_Defaults(t *testing.T) {
	c := NewComposer(config.MailConfig{})
	m := c.Invite(InviteParams{To: "a@example.com", ClientName: "Ann <b>", InviteLink: "http://portal/set-password?token=x&y=1"})

	assert.Equal(t, "Clear Start Credit <no-reply@localhost>", m.From)
	assert.Equal(t, "Clear Start Credit – Activate your Client Portal", m.Subject)
	assert.Contains(t, m.HTML, "Hi Ann &lt;b&gt;,")
	assert.Contains(t, m.HTML, "token=x&amp;y=1")
	assert.Contains(t, m.HTML, "support@localhost")
	assert.Contains(t, m.Text, "Activate: http://portal/set-password?token=x&y=1")
}

func TestComposer_Reminder(t *testing.T) {
	c := NewComposer(config.MailConfig{BrandName: "Acme Credit", From: "Acme <ops@acme.test>"})
	m := c.Reminder(ReminderParams{
		To:         "client@example.com",
		ClientName: "Bo",
		Bureau:     "TU",
		Round:      2,
		DueAt:      time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		DaysLeft:   3,
	})

	assert.Equal(t, "Acme <ops@acme.test>", m.From)
	assert.Equal(t, "Acme Credit – Dispute follow-up reminder (3 days)", m.Subject)
	assert.Equal(t, "Reminder: TU Round 2 due in 3 day(s). Due: 3/9/2025", m.Text)
	assert.Contains(t, m.HTML, "<b>3</b> day(s)")
}

func TestNew_WithoutHostLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sender, err := New(config.MailConfig{}, zap.New(core))
	require.NoError(t, err)
	require.IsType(t, &LogSender{}, sender)

	require.NoError(t, sender.SendClientInvite(context.Background(), InviteParams{To: "a@example.com", ClientName: "A"}))
	sent := logs.FilterMessage("mail not sent").All()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@example.com", sent[0].ContextMap()["to"])
}

func TestNew_SMTP(t *testing.T) {
	sender, err := New(config.MailConfig{SMTPHost: "smtp.example.com", SMTPPort: 2525, SMTPUser: "u", SMTPPass: "p"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, sender)
}
