package automation

import (
	"context"
	"fmt"

	"creditflow/db"
)

// ReminderLog records which (dispute, day mark) reminders went out.
type ReminderLog interface {
	// Claim inserts the pair and reports whether this caller won it. It must
	// run on the caller's transaction so a failed send can release it.
	Claim(ctx context.Context, q db.Querier, disputeID string, dayMark int) (bool, error)
}

// PGReminderLog implements ReminderLog on the reminder_logs table.
type PGReminderLog struct{}

func (PGReminderLog) Claim(ctx context.Context, q db.Querier, disputeID string, dayMark int) (bool, error) {
	const insertSQL = `
		INSERT INTO reminder_logs (dispute_id, day_mark)
		VALUES ($1, $2)
		ON CONFLICT (dispute_id, day_mark) DO NOTHING
	`
	tag, err := q.Exec(ctx, insertSQL, disputeID, dayMark)
	if err != nil {
		return false, fmt.Errorf("automation: claim reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
