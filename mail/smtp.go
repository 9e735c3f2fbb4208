package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"creditflow/config"
)

// SMTPSender delivers mail through one SMTP relay.
type SMTPSender struct {
	client   *gomail.Client
	composer Composer
}

func NewSMTPSender(cfg config.MailConfig) (*SMTPSender, error) {
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	opts := []gomail.Option{gomail.WithPort(port)}
	if cfg.SMTPSecure {
		opts = append(opts, gomail.WithSSLPort(false))
	} else {
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSOpportunistic))
	}
	if cfg.SMTPUser != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.SMTPUser),
			gomail.WithPassword(cfg.SMTPPass),
		)
	}

	client, err := gomail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: smtp client: %w", err)
	}
	return &SMTPSender{client: client, composer: NewComposer(cfg)}, nil
}

func (s *SMTPSender) SendClientInvite(ctx context.Context, p InviteParams) error {
	return s.send(ctx, s.composer.Invite(p))
}

func (s *SMTPSender) SendDisputeReminder(ctx context.Context, p ReminderParams) error {
	return s.send(ctx, s.composer.Reminder(p))
}

func (s *SMTPSender) send(ctx context.Context, m Message) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return fmt.Errorf("mail: from %q: %w", m.From, err)
	}
	if err := msg.To(m.To); err != nil {
		return fmt.Errorf("mail: to %q: %w", m.To, err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, m.Text)
	msg.AddAlternativeString(gomail.TypeTextHTML, m.HTML)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send %q: %w", m.Subject, err)
	}
	return nil
}
