package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"creditflow/db"
)

var (
	ErrNotFound   = errors.New("dispute: not found")
	ErrValidation = errors.New("dispute: validation failed")
)

// Repository is the persistence surface for disputes.
type Repository interface {
	Create(ctx context.Context, q db.Querier, clientID, bureau string, round int) (Dispute, error)
	InsertItems(ctx context.Context, q db.Querier, disputeID string, items []ItemInput) error
	Get(ctx context.Context, disputeID string) (Dispute, error)
	ListForClient(ctx context.Context, clientID string, limit int) ([]Dispute, error)
	UpdateStatus(ctx context.Context, q db.Querier, disputeID string, status Status, sentAt, dueAt *time.Time) (Dispute, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

const disputeColumns = `id, client_id, bureau, round, status, sent_at, due_at, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, q db.Querier, clientID, bureau string, round int) (Dispute, error) {
	const insertSQL = `
		INSERT INTO disputes (client_id, bureau, round, status)
		VALUES ($1, $2, $3, 'DRAFT')
		RETURNING ` + disputeColumns

	d, err := scanDispute(q.QueryRow(ctx, insertSQL, clientID, bureau, int16(round)))
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Dispute{}, fmt.Errorf("%w: unknown client %s", ErrValidation, clientID)
		}
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	return d, nil
}

// InsertItems appends items after any existing ones, preserving input order.
func (r *PGRepository) InsertItems(ctx context.Context, q db.Querier, disputeID string, items []ItemInput) error {
	const insertSQL = `
		INSERT INTO dispute_items (dispute_id, position, tradeline_id, reason)
		VALUES ($1, $2, $3, $4)
	`
	for i, it := range items {
		if _, err := q.Exec(ctx, insertSQL, disputeID, i, it.TradelineID, it.Reason); err != nil {
			return fmt.Errorf("dispute: insert item: %w", err)
		}
	}
	return nil
}

// Get loads a dispute with its items and letters.
func (r *PGRepository) Get(ctx context.Context, disputeID string) (Dispute, error) {
	if !db.ValidID(disputeID) {
		return Dispute{}, ErrNotFound
	}
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`

	d, err := scanDispute(r.pool.QueryRow(ctx, query, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}

	out := []Dispute{d}
	if err := r.attachChildren(ctx, out); err != nil {
		return Dispute{}, err
	}
	return out[0], nil
}

// ListForClient returns the client's disputes newest first with items and
// letters. A non-positive limit returns all.
func (r *PGRepository) ListForClient(ctx context.Context, clientID string, limit int) ([]Dispute, error) {
	query := `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE client_id = $1
		ORDER BY created_at DESC
	`
	args := []any{clientID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	out, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := r.attachChildren(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, q db.Querier, disputeID string, status Status, sentAt, dueAt *time.Time) (Dispute, error) {
	const updateSQL = `
		UPDATE disputes
		SET status = $2,
		    sent_at = COALESCE($3, sent_at),
		    due_at = COALESCE($4, due_at),
		    updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING ` + disputeColumns

	d, err := scanDispute(q.QueryRow(ctx, updateSQL, disputeID, status, sentAt, dueAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: update status: %w", err)
	}
	return d, nil
}

// ListOverdueSent returns SENT disputes whose due date has passed, with items.
func (r *PGRepository) ListOverdueSent(ctx context.Context, now time.Time) ([]Dispute, error) {
	const query = `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE status = 'SENT' AND due_at <= $1
		ORDER BY due_at ASC
	`
	out, err := r.list(ctx, query, now)
	if err != nil {
		return nil, err
	}
	if err := r.attachChildren(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListReminderTargets returns SENT disputes with a due date whose client has an email.
func (r *PGRepository) ListReminderTargets(ctx context.Context) ([]ReminderTarget, error) {
	const query = `
		SELECT d.id, d.client_id, d.bureau, d.round, d.status, d.sent_at, d.due_at, d.created_at, d.updated_at,
		       c.email, c.first_name || ' ' || c.last_name
		FROM disputes d
		JOIN clients c ON c.id = d.client_id
		WHERE d.status = 'SENT' AND d.due_at IS NOT NULL AND COALESCE(c.email, '') <> ''
		ORDER BY d.due_at ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dispute: list reminder targets: %w", err)
	}
	defer rows.Close()

	out := make([]ReminderTarget, 0, 16)
	for rows.Next() {
		var (
			t     ReminderTarget
			round int16
		)
		if err := rows.Scan(&t.Dispute.ID, &t.Dispute.ClientID, &t.Dispute.Bureau, &round, &t.Dispute.Status,
			&t.Dispute.SentAt, &t.Dispute.DueAt, &t.Dispute.CreatedAt, &t.Dispute.UpdatedAt,
			&t.ClientEmail, &t.ClientName); err != nil {
			return nil, fmt.Errorf("dispute: scan reminder target: %w", err)
		}
		t.Dispute.Round = int(round)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate reminder targets: %w", err)
	}
	return out, nil
}

// CreateNextRound opens a DRAFT dispute for (client, bureau, round) copying
// the items of src, unless a dispute for that triple already exists. A
// transaction-scoped advisory lock on the triple serializes concurrent
// callers, so at most one such dispute is ever created.
func (r *PGRepository) CreateNextRound(ctx context.Context, tx pgx.Tx, src Dispute, round int) (Dispute, bool, error) {
	lockKey := fmt.Sprintf("dispute-round:%s:%s:%d", src.ClientID, src.Bureau, round)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return Dispute{}, false, fmt.Errorf("dispute: lock next round: %w", err)
	}

	const existsSQL = `
		SELECT EXISTS (
			SELECT 1 FROM disputes WHERE client_id = $1 AND bureau = $2 AND round = $3
		)
	`
	var exists bool
	if err := tx.QueryRow(ctx, existsSQL, src.ClientID, src.Bureau, int16(round)).Scan(&exists); err != nil {
		return Dispute{}, false, fmt.Errorf("dispute: check next round: %w", err)
	}
	if exists {
		return Dispute{}, false, nil
	}

	created, err := r.Create(ctx, tx, src.ClientID, src.Bureau, round)
	if err != nil {
		return Dispute{}, false, err
	}

	items := make([]ItemInput, len(src.Items))
	for i, it := range src.Items {
		items[i] = ItemInput{TradelineID: it.TradelineID, Reason: it.Reason}
	}
	if err := r.InsertItems(ctx, tx, created.ID, items); err != nil {
		return Dispute{}, false, err
	}
	return created, true, nil
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Dispute, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) attachChildren(ctx context.Context, disputes []Dispute) error {
	if len(disputes) == 0 {
		return nil
	}
	ids := make([]string, len(disputes))
	index := make(map[string]int, len(disputes))
	for i, d := range disputes {
		ids[i] = d.ID
		index[d.ID] = i
		disputes[i].Items = []Item{}
		disputes[i].Letters = []Letter{}
	}

	const itemsSQL = `
		SELECT id, dispute_id, position, tradeline_id, reason
		FROM dispute_items
		WHERE dispute_id::text = ANY($1::text[])
		ORDER BY dispute_id, position ASC
	`
	rows, err := r.pool.Query(ctx, itemsSQL, ids)
	if err != nil {
		return fmt.Errorf("dispute: list items: %w", err)
	}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.DisputeID, &it.Position, &it.TradelineID, &it.Reason); err != nil {
			rows.Close()
			return fmt.Errorf("dispute: scan item: %w", err)
		}
		i := index[it.DisputeID]
		disputes[i].Items = append(disputes[i].Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("dispute: iterate items: %w", err)
	}

	const lettersSQL = `
		SELECT id, dispute_id, template_id, pdf_key, created_at
		FROM letters
		WHERE dispute_id::text = ANY($1::text[])
		ORDER BY created_at DESC
	`
	rows, err = r.pool.Query(ctx, lettersSQL, ids)
	if err != nil {
		return fmt.Errorf("dispute: list letters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Letter
		if err := rows.Scan(&l.ID, &l.DisputeID, &l.TemplateID, &l.PDFKey, &l.CreatedAt); err != nil {
			return fmt.Errorf("dispute: scan letter: %w", err)
		}
		i := index[l.DisputeID]
		disputes[i].Letters = append(disputes[i].Letters, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("dispute: iterate letters: %w", err)
	}
	return nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d     Dispute
		round int16
	)
	err := row.Scan(&d.ID, &d.ClientID, &d.Bureau, &round, &d.Status, &d.SentAt, &d.DueAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Dispute{}, err
	}
	d.Round = int(round)
	return d, nil
}
