package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"creditflow/db"
)

var (
	ErrNotFound   = errors.New("report: snapshot not found")
	ErrValidation = errors.New("report: validation failed")
)

// Repository is the persistence surface of the report service.
type Repository interface {
	CreateSnapshot(ctx context.Context, q db.Querier, clientID, provider, reportType string) (Snapshot, error)
	GetSnapshot(ctx context.Context, snapshotID string) (Snapshot, error)
	ListSnapshots(ctx context.Context, clientID string) ([]Snapshot, error)
	LatestSnapshot(ctx context.Context, clientID string) (Snapshot, error)
	AddTradeline(ctx context.Context, snapshotID string, in TradelineInput) (Tradeline, error)
	CopyTradelines(ctx context.Context, tx pgx.Tx, snapshotID string, in []TradelineInput) (int64, error)
	ListTradelines(ctx context.Context, snapshotID string) ([]Tradeline, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

const snapshotColumns = `id, client_id, provider, report_type, pulled_at`

func (r *PGRepository) CreateSnapshot(ctx context.Context, q db.Querier, clientID, provider, reportType string) (Snapshot, error) {
	const insertSQL = `
		INSERT INTO report_snapshots (client_id, provider, report_type)
		VALUES ($1, $2, $3)
		RETURNING ` + snapshotColumns

	snap, err := scanSnapshot(q.QueryRow(ctx, insertSQL, clientID, provider, reportType))
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Snapshot{}, fmt.Errorf("%w: unknown client %s", ErrValidation, clientID)
		}
		return Snapshot{}, fmt.Errorf("report: create snapshot: %w", err)
	}
	return snap, nil
}

func (r *PGRepository) GetSnapshot(ctx context.Context, snapshotID string) (Snapshot, error) {
	if !db.ValidID(snapshotID) {
		return Snapshot{}, ErrNotFound
	}
	const query = `SELECT ` + snapshotColumns + ` FROM report_snapshots WHERE id = $1`

	snap, err := scanSnapshot(r.pool.QueryRow(ctx, query, snapshotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("report: get snapshot: %w", err)
	}
	return snap, nil
}

func (r *PGRepository) ListSnapshots(ctx context.Context, clientID string) ([]Snapshot, error) {
	const query = `
		SELECT ` + snapshotColumns + `
		FROM report_snapshots
		WHERE client_id = $1
		ORDER BY pulled_at DESC
	`
	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("report: list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]Snapshot, 0, 8)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("report: scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: iterate snapshots: %w", err)
	}
	return out, nil
}

// LatestSnapshot returns the most recently pulled snapshot or ErrNotFound.
func (r *PGRepository) LatestSnapshot(ctx context.Context, clientID string) (Snapshot, error) {
	const query = `
		SELECT ` + snapshotColumns + `
		FROM report_snapshots
		WHERE client_id = $1
		ORDER BY pulled_at DESC
		LIMIT 1
	`
	snap, err := scanSnapshot(r.pool.QueryRow(ctx, query, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("report: latest snapshot: %w", err)
	}
	return snap, nil
}

const tradelineColumns = `id, snapshot_id, furnisher, account_type, status, bureau, balance, credit_limit, payment_status, remarks, opened_date, created_at`

func (r *PGRepository) AddTradeline(ctx context.Context, snapshotID string, in TradelineInput) (Tradeline, error) {
	const insertSQL = `
		INSERT INTO tradelines (snapshot_id, furnisher, account_type, status, bureau, balance, credit_limit, payment_status, remarks, opened_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + tradelineColumns

	tl, err := scanTradeline(r.pool.QueryRow(ctx, insertSQL,
		snapshotID, in.Furnisher, in.AccountType, in.Status, in.Bureau,
		in.Balance, in.Limit, in.PaymentStatus, in.Remarks, in.OpenedDate,
	))
	if err != nil {
		return Tradeline{}, fmt.Errorf("report: add tradeline: %w", err)
	}
	return tl, nil
}

// CopyTradelines bulk-loads imported tradelines with COPY.
func (r *PGRepository) CopyTradelines(ctx context.Context, tx pgx.Tx, snapshotID string, in []TradelineInput) (int64, error) {
	if len(in) == 0 {
		return 0, nil
	}
	columns := []string{"snapshot_id", "furnisher", "account_type", "status", "bureau", "balance", "credit_limit", "payment_status", "remarks", "opened_date"}

	snap, err := db.UUID(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("report: copy tradelines: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"tradelines"}, columns, pgx.CopyFromSlice(len(in), func(i int) ([]any, error) {
		t := in[i]
		return []any{snap, t.Furnisher, t.AccountType, t.Status, t.Bureau, t.Balance, t.Limit, t.PaymentStatus, t.Remarks, t.OpenedDate}, nil
	}))
	if err != nil {
		return 0, fmt.Errorf("report: copy tradelines: %w", err)
	}
	return n, nil
}

// ListTradelines returns a snapshot's tradelines in insertion order.
func (r *PGRepository) ListTradelines(ctx context.Context, snapshotID string) ([]Tradeline, error) {
	const query = `
		SELECT ` + tradelineColumns + `
		FROM tradelines
		WHERE snapshot_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("report: list tradelines: %w", err)
	}
	defer rows.Close()

	out := make([]Tradeline, 0, 16)
	for rows.Next() {
		tl, err := scanTradeline(rows)
		if err != nil {
			return nil, fmt.Errorf("report: scan tradeline: %w", err)
		}
		out = append(out, tl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: iterate tradelines: %w", err)
	}
	return out, nil
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var s Snapshot
	if err := row.Scan(&s.ID, &s.ClientID, &s.Provider, &s.ReportType, &s.PulledAt); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func scanTradeline(row pgx.Row) (Tradeline, error) {
	var t Tradeline
	err := row.Scan(
		&t.ID,
		&t.SnapshotID,
		&t.Furnisher,
		&t.AccountType,
		&t.Status,
		&t.Bureau,
		&t.Balance,
		&t.Limit,
		&t.PaymentStatus,
		&t.Remarks,
		&t.OpenedDate,
		&t.CreatedAt,
	)
	if err != nil {
		return Tradeline{}, err
	}
	return t, nil
}
