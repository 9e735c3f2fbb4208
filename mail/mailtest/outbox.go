// Package mailtest provides a recording mail.Sender.
package mailtest

import (
	"context"
	"sync"

	"creditflow/mail"
)

// Outbox records every send. Err, when set, fails every send.
type Outbox struct {
	mu        sync.Mutex
	Invites   []mail.InviteParams
	Reminders []mail.ReminderParams
	Err       error
}

func (o *Outbox) SendClientInvite(_ context.Context, p mail.InviteParams) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.Invites = append(o.Invites, p)
	return nil
}

func (o *Outbox) SendDisputeReminder(_ context.Context, p mail.ReminderParams) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.Reminders = append(o.Reminders, p)
	return nil
}

// ReminderCount returns how many reminders were delivered.
func (o *Outbox) ReminderCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Reminders)
}
