package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"creditflow/db"
)

var (
	ErrNotFound   = errors.New("task: not found")
	ErrValidation = errors.New("task: validation failed")
)

// Repository persists tasks.
type Repository interface {
	Create(ctx context.Context, q db.Querier, params CreateParams) (Task, error)
	CreateIfAbsent(ctx context.Context, q db.Querier, params CreateParams) (Task, bool, error)
	Get(ctx context.Context, taskID string) (Task, error)
	ListOpen(ctx context.Context, assignedUserID string) ([]Task, error)
	ListForClient(ctx context.Context, clientID string) ([]Task, error)
	MarkDone(ctx context.Context, q db.Querier, taskID string) (Task, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

const taskColumns = `id, client_id, type, title, notes, status, due_at, assigned_to, dedupe_key, created_at`

func (r *PGRepository) Create(ctx context.Context, q db.Querier, p CreateParams) (Task, error) {
	const insertSQL = `
		INSERT INTO tasks (client_id, type, title, notes, due_at, assigned_to, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + taskColumns

	t, err := scanTask(q.QueryRow(ctx, insertSQL, p.ClientID, p.Type, p.Title, p.Notes, p.DueAt, p.AssignedTo, p.DedupeKey))
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Task{}, fmt.Errorf("%w: unknown client or assignee", ErrValidation)
		}
		return Task{}, fmt.Errorf("task: create: %w", err)
	}
	return t, nil
}

// CreateIfAbsent inserts the task unless an OPEN task with the same dedupe
// key exists. The conflict check and insert are one statement, so concurrent
// callers cannot both succeed.
func (r *PGRepository) CreateIfAbsent(ctx context.Context, q db.Querier, p CreateParams) (Task, bool, error) {
	if p.DedupeKey == nil || *p.DedupeKey == "" {
		return Task{}, false, fmt.Errorf("%w: dedupe key is required", ErrValidation)
	}
	const insertSQL = `
		INSERT INTO tasks (client_id, type, title, notes, due_at, assigned_to, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedupe_key) WHERE status = 'OPEN' AND dedupe_key IS NOT NULL DO NOTHING
		RETURNING ` + taskColumns

	t, err := scanTask(q.QueryRow(ctx, insertSQL, p.ClientID, p.Type, p.Title, p.Notes, p.DueAt, p.AssignedTo, p.DedupeKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, false, nil
		}
		if db.IsForeignKeyViolation(err) {
			return Task{}, false, fmt.Errorf("%w: unknown client or assignee", ErrValidation)
		}
		return Task{}, false, fmt.Errorf("task: create if absent: %w", err)
	}
	return t, true, nil
}

func (r *PGRepository) Get(ctx context.Context, taskID string) (Task, error) {
	if !db.ValidID(taskID) {
		return Task{}, ErrNotFound
	}
	const query = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	t, err := scanTask(r.pool.QueryRow(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("task: get: %w", err)
	}
	return t, nil
}

// ListOpen returns OPEN tasks by due date then newest. A non-empty
// assignedUserID limits the list to clients that user is assigned to.
func (r *PGRepository) ListOpen(ctx context.Context, assignedUserID string) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE t.status = 'OPEN'`
	args := []any{}
	if assignedUserID != "" {
		query += ` AND EXISTS (SELECT 1 FROM client_assignments a WHERE a.client_id = t.client_id AND a.user_id = $1)`
		args = append(args, assignedUserID)
	}
	query += ` ORDER BY t.due_at ASC, t.created_at DESC`
	return r.list(ctx, query, args...)
}

func (r *PGRepository) ListForClient(ctx context.Context, clientID string) ([]Task, error) {
	const query = `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE client_id = $1
		ORDER BY (status = 'OPEN') DESC, due_at ASC
	`
	return r.list(ctx, query, clientID)
}

func (r *PGRepository) MarkDone(ctx context.Context, q db.Querier, taskID string) (Task, error) {
	const updateSQL = `
		UPDATE tasks SET status = 'DONE'
		WHERE id = $1
		RETURNING ` + taskColumns

	t, err := scanTask(q.QueryRow(ctx, updateSQL, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("task: mark done: %w", err)
	}
	return t, nil
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("task: list: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 16)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("task: scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task: iterate: %w", err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.ClientID, &t.Type, &t.Title, &t.Notes, &t.Status, &t.DueAt, &t.AssignedTo, &t.DedupeKey, &t.CreatedAt)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}
