// Package mail sends client-facing notifications.
package mail

import (
	"context"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"

	"creditflow/config"
)

// InviteParams are the values of a portal invitation mail.
type InviteParams struct {
	To         string
	ClientName string
	InviteLink string
}

// ReminderParams are the values of a dispute follow-up reminder.
type ReminderParams struct {
	To         string
	ClientName string
	Bureau     string
	Round      int
	DueAt      time.Time
	DaysLeft   int
}

// Sender delivers notifications. Callers do not retry failures.
type Sender interface {
	SendClientInvite(ctx context.Context, p InviteParams) error
	SendDisputeReminder(ctx context.Context, p ReminderParams) error
}

// Message is a rendered mail.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Composer renders messages with the configured brand.
type Composer struct {
	brand   string
	from    string
	support string
}

func NewComposer(cfg config.MailConfig) Composer {
	brand := cfg.BrandName
	if brand == "" {
		brand = "Clear Start Credit"
	}
	from := cfg.From
	if from == "" {
		from = brand + " <no-reply@localhost>"
	}
	support := cfg.SupportEmail
	if support == "" {
		support = "support@localhost"
	}
	return Composer{brand: brand, from: from, support: support}
}

func (c Composer) Invite(p InviteParams) Message {
	return Message{
		From:    c.from,
		To:      p.To,
		Subject: fmt.Sprintf("%s – Activate your Client Portal", c.brand),
		HTML: fmt.Sprintf(`<div style="font-family:Arial;line-height:1.5">
  <h2>%s – Client Portal</h2>
  <p>Hi %s,</p>
  <p>Click to activate your portal (expires in 24 hours):</p>
  <p><a href="%s" style="background:#111;color:#fff;padding:10px 14px;border-radius:8px;text-decoration:none;font-weight:700">Activate Portal</a></p>
  <p style="color:#555;font-size:12px">Questions? %s</p>
</div>`, html.EscapeString(c.brand), html.EscapeString(p.ClientName), html.EscapeString(p.InviteLink), html.EscapeString(c.support)),
		Text: fmt.Sprintf("Hi %s\n\nActivate: %s\n\n- %s", p.ClientName, p.InviteLink, c.brand),
	}
}

func (c Composer) Reminder(p ReminderParams) Message {
	due := p.DueAt.Format("1/2/2006")
	return Message{
		From:    c.from,
		To:      p.To,
		Subject: fmt.Sprintf("%s – Dispute follow-up reminder (%d days)", c.brand, p.DaysLeft),
		HTML: fmt.Sprintf(`<div style="font-family:Arial;line-height:1.5">
  <h2>%s – Follow-up Reminder</h2>
  <p>Hi %s,</p>
  <p>Reminder: %s Round %d follow-up is due in <b>%d</b> day(s).</p>
  <p><b>Due:</b> %s</p>
</div>`, html.EscapeString(c.brand), html.EscapeString(p.ClientName), html.EscapeString(p.Bureau), p.Round, p.DaysLeft, due),
		Text: fmt.Sprintf("Reminder: %s Round %d due in %d day(s). Due: %s", p.Bureau, p.Round, p.DaysLeft, due),
	}
}

// New returns an SMTP sender, or a logging sender when no SMTP host is set.
func New(cfg config.MailConfig, logger *zap.Logger) (Sender, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SMTPHost == "" {
		logger.Warn("smtp host not configured, mail will only be logged")
		return NewLogSender(NewComposer(cfg), logger), nil
	}
	return NewSMTPSender(cfg)
}

// LogSender logs messages instead of delivering them.
type LogSender struct {
	composer Composer
	logger   *zap.Logger
}

func NewLogSender(composer Composer, logger *zap.Logger) *LogSender {
	return &LogSender{composer: composer, logger: logger}
}

func (s *LogSender) SendClientInvite(_ context.Context, p InviteParams) error {
	s.log(s.composer.Invite(p))
	return nil
}

func (s *LogSender) SendDisputeReminder(_ context.Context, p ReminderParams) error {
	s.log(s.composer.Reminder(p))
	return nil
}

func (s *LogSender) log(m Message) {
	s.logger.Info("mail not sent",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
	)
}
