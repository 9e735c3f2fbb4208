package letter

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"creditflow/db"
	"creditflow/dispute"
)

var ErrNotFound = errors.New("letter: not found")

// Stored is a letter with the client it belongs to.
type Stored struct {
	dispute.Letter
	ClientID string
}

// Repository persists letter records.
type Repository interface {
	Create(ctx context.Context, q db.Querier, disputeID, templateID, pdfKey string) (dispute.Letter, error)
	Get(ctx context.Context, letterID string) (Stored, error)
	ListForDispute(ctx context.Context, disputeID string) ([]dispute.Letter, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, q db.Querier, disputeID, templateID, pdfKey string) (dispute.Letter, error) {
	const insertSQL = `
		INSERT INTO letters (dispute_id, template_id, pdf_key)
		VALUES ($1, $2, $3)
		RETURNING id, dispute_id, template_id, pdf_key, created_at
	`
	var l dispute.Letter
	if err := q.QueryRow(ctx, insertSQL, disputeID, templateID, pdfKey).
		Scan(&l.ID, &l.DisputeID, &l.TemplateID, &l.PDFKey, &l.CreatedAt); err != nil {
		return dispute.Letter{}, fmt.Errorf("letter: create: %w", err)
	}
	return l, nil
}

func (r *PGRepository) Get(ctx context.Context, letterID string) (Stored, error) {
	if !db.ValidID(letterID) {
		return Stored{}, ErrNotFound
	}
	const query = `
		SELECT l.id, l.dispute_id, l.template_id, l.pdf_key, l.created_at, d.client_id
		FROM letters l
		JOIN disputes d ON d.id = l.dispute_id
		WHERE l.id = $1
	`
	var s Stored
	if err := r.pool.QueryRow(ctx, query, letterID).
		Scan(&s.ID, &s.DisputeID, &s.TemplateID, &s.PDFKey, &s.CreatedAt, &s.ClientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stored{}, ErrNotFound
		}
		return Stored{}, fmt.Errorf("letter: get: %w", err)
	}
	return s, nil
}

func (r *PGRepository) ListForDispute(ctx context.Context, disputeID string) ([]dispute.Letter, error) {
	const query = `
		SELECT id, dispute_id, template_id, pdf_key, created_at
		FROM letters
		WHERE dispute_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("letter: list: %w", err)
	}
	defer rows.Close()

	out := make([]dispute.Letter, 0, 4)
	for rows.Next() {
		var l dispute.Letter
		if err := rows.Scan(&l.ID, &l.DisputeID, &l.TemplateID, &l.PDFKey, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("letter: scan: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("letter: iterate: %w", err)
	}
	return out, nil
}
