package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"creditflow/db"
)

var (
	ErrNotFound   = errors.New("client: not found")
	ErrValidation = errors.New("client: validation failed")
)

// Repository persists clients and assignments.
type Repository interface {
	Create(ctx context.Context, q db.Querier, params CreateParams) (Client, error)
	Get(ctx context.Context, clientID string) (Client, error)
	ListAll(ctx context.Context) ([]Client, error)
	ListAssigned(ctx context.Context, userID string) ([]Client, error)
	UpsertAssignment(ctx context.Context, q db.Querier, clientID, userID, role string) (Assignment, error)
	ListAssignments(ctx context.Context, clientID string) ([]Assignment, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

const clientColumns = `id, first_name, last_name, email, phone, created_at`

func (r *PGRepository) Create(ctx context.Context, q db.Querier, params CreateParams) (Client, error) {
	const insertSQL = `
		INSERT INTO clients (first_name, last_name, email, phone)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + clientColumns

	var c Client
	if err := q.QueryRow(ctx, insertSQL, params.FirstName, params.LastName, params.Email, params.Phone).
		Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CreatedAt); err != nil {
		return Client{}, fmt.Errorf("client: create: %w", err)
	}
	return c, nil
}

func (r *PGRepository) Get(ctx context.Context, clientID string) (Client, error) {
	if !db.ValidID(clientID) {
		return Client{}, ErrNotFound
	}
	const query = `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`

	var c Client
	if err := r.pool.QueryRow(ctx, query, clientID).
		Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrNotFound
		}
		return Client{}, fmt.Errorf("client: get: %w", err)
	}
	return c, nil
}

func (r *PGRepository) ListAll(ctx context.Context) ([]Client, error) {
	const query = `SELECT ` + clientColumns + ` FROM clients ORDER BY created_at DESC`
	return r.list(ctx, query)
}

func (r *PGRepository) ListAssigned(ctx context.Context, userID string) ([]Client, error) {
	const query = `
		SELECT c.id, c.first_name, c.last_name, c.email, c.phone, c.created_at
		FROM clients c
		WHERE EXISTS (
			SELECT 1 FROM client_assignments a WHERE a.client_id = c.id AND a.user_id = $1
		)
		ORDER BY c.created_at DESC
	`
	return r.list(ctx, query, userID)
}

// UpsertAssignment creates the assignment or updates its role.
func (r *PGRepository) UpsertAssignment(ctx context.Context, q db.Querier, clientID, userID, role string) (Assignment, error) {
	const upsertSQL = `
		INSERT INTO client_assignments (client_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING client_id, user_id, role, created_at
	`
	var a Assignment
	if err := q.QueryRow(ctx, upsertSQL, clientID, userID, role).
		Scan(&a.ClientID, &a.UserID, &a.Role, &a.CreatedAt); err != nil {
		if db.IsForeignKeyViolation(err) {
			return Assignment{}, fmt.Errorf("%w: unknown client or user", ErrValidation)
		}
		return Assignment{}, fmt.Errorf("client: upsert assignment: %w", err)
	}
	return a, nil
}

func (r *PGRepository) ListAssignments(ctx context.Context, clientID string) ([]Assignment, error) {
	const query = `
		SELECT a.client_id, a.user_id, u.email, a.role, a.created_at
		FROM client_assignments a
		JOIN users u ON u.id = a.user_id
		WHERE a.client_id = $1
		ORDER BY a.created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("client: list assignments: %w", err)
	}
	defer rows.Close()

	out := make([]Assignment, 0, 4)
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ClientID, &a.UserID, &a.UserEmail, &a.Role, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("client: scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("client: iterate assignments: %w", err)
	}
	return out, nil
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Client, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("client: list: %w", err)
	}
	defer rows.Close()

	out := make([]Client, 0, 16)
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("client: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("client: iterate: %w", err)
	}
	return out, nil
}
