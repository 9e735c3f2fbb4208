// Package activity records the append-only audit trail of user and system actions.
package activity

import (
	"context"
	"fmt"
	"time"

	"creditflow/access"
	"creditflow/auth"
	"creditflow/db"
)

const (
	ActionAuditRan               = "AUDIT_RAN"
	ActionSnapshotCreated        = "SNAPSHOT_CREATED"
	ActionDisputeCreated         = "DISPUTE_CREATED"
	ActionDisputeSent            = "DISPUTE_SENT"
	ActionRoundSuggested         = "ROUND_SUGGESTED"
	ActionRoundCreated           = "ROUND_CREATED"
	ActionReminderSent           = "REMINDER_SENT"
	ActionProviderImport         = "PROVIDER_IMPORT"
	ActionProviderImportEnqueued = "PROVIDER_IMPORT_ENQUEUED"
	ActionTaskCreated            = "TASK_CREATED"
	ActionTaskDone               = "TASK_DONE"
	ActionClientAssigned         = "CLIENT_ASSIGNED"
	ActionClientInvited          = "CLIENT_INVITED"
	ActionDocUploaded            = "DOC_UPLOADED"
	ActionLetterGenerated        = "LETTER_GENERATED"
)

// MaxList caps every activity listing.
const MaxList = 200

// Entry mirrors the activity_logs table. A nil ActorID marks a system action.
type Entry struct {
	ID        int64
	ActorID   *string
	ClientID  *string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// Writer appends entries on the caller's querier, usually its open transaction.
type Writer interface {
	Append(ctx context.Context, q db.Querier, e Entry) error
}

// StringPtr is a small helper for the nullable id columns.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Log reads and writes activity_logs.
type Log struct {
	pool   db.Querier
	access access.Authorizer
}

func NewLog(pool db.Querier, authz access.Authorizer) *Log {
	return &Log{pool: pool, access: authz}
}

// Append inserts one entry. Entries are never updated or deleted.
func (l *Log) Append(ctx context.Context, q db.Querier, e Entry) error {
	if e.Action == "" {
		return fmt.Errorf("activity: empty action")
	}
	const insertSQL = `
		INSERT INTO activity_logs (actor_id, client_id, action, detail)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := q.Exec(ctx, insertSQL, e.ActorID, e.ClientID, e.Action, e.Detail); err != nil {
		return fmt.Errorf("activity: append %s: %w", e.Action, err)
	}
	return nil
}

// Recent returns the newest entries. ADMIN sees every client; anyone else
// only entries for clients they are assigned to.
func (l *Log) Recent(ctx context.Context, actor access.Actor, limit int) ([]Entry, error) {
	query := `SELECT id, actor_id, client_id, action, detail, created_at FROM activity_logs`
	args := []any{clampLimit(limit)}
	if actor.Role != auth.RoleAdmin {
		if actor.UserID == "" || actor.Role == auth.RoleClient {
			return nil, access.ErrForbidden
		}
		args = append(args, actor.UserID)
		query += ` WHERE EXISTS (
			SELECT 1 FROM client_assignments a
			WHERE a.client_id = activity_logs.client_id AND a.user_id = $2)`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1`
	return l.list(ctx, query, args...)
}

// ForClient returns the newest entries for one client after an access check.
func (l *Log) ForClient(ctx context.Context, actor access.Actor, clientID string, limit int) ([]Entry, error) {
	if err := l.access.Require(ctx, actor, clientID); err != nil {
		return nil, err
	}
	const query = `
		SELECT id, actor_id, client_id, action, detail, created_at
		FROM activity_logs
		WHERE client_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	return l.list(ctx, query, clampLimit(limit), clientID)
}

func (l *Log) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("activity: list: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 16)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ClientID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("activity: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity: iterate: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxList {
		return MaxList
	}
	return limit
}
