package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"creditflow/db"
)

// ErrNoRun signals that a snapshot has never been audited.
var ErrNoRun = errors.New("audit: no audit run")

// Repository persists audit runs and findings.
type Repository interface {
	CreateRun(ctx context.Context, q db.Querier, snapshotID, engineVersion string) (Run, error)
	InsertFindings(ctx context.Context, tx pgx.Tx, runID string, findings []Finding) (int64, error)
	LatestRun(ctx context.Context, snapshotID string) (Run, error)
	ListFindings(ctx context.Context, runID string) ([]Finding, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) CreateRun(ctx context.Context, q db.Querier, snapshotID, engineVersion string) (Run, error) {
	const insertSQL = `
		INSERT INTO audit_runs (snapshot_id, engine_version)
		VALUES ($1, $2)
		RETURNING id, snapshot_id, engine_version, created_at
	`
	var run Run
	if err := q.QueryRow(ctx, insertSQL, snapshotID, engineVersion).
		Scan(&run.ID, &run.SnapshotID, &run.EngineVersion, &run.CreatedAt); err != nil {
		return Run{}, fmt.Errorf("audit: create run: %w", err)
	}
	return run, nil
}

// InsertFindings writes all findings of a run in one COPY.
func (r *PGRepository) InsertFindings(ctx context.Context, tx pgx.Tx, runID string, findings []Finding) (int64, error) {
	if len(findings) == 0 {
		return 0, nil
	}
	columns := []string{"audit_run_id", "position", "rule_id", "severity", "title", "description", "tradeline_id"}

	run, err := db.UUID(&runID)
	if err != nil {
		return 0, fmt.Errorf("audit: copy findings: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"audit_findings"}, columns, pgx.CopyFromSlice(len(findings), func(i int) ([]any, error) {
		f := findings[i]
		tradeline, err := db.UUID(f.TradelineID)
		if err != nil {
			return nil, err
		}
		return []any{run, int32(i), f.RuleID, int16(f.Severity), f.Title, f.Description, tradeline}, nil
	}))
	if err != nil {
		return 0, fmt.Errorf("audit: copy findings: %w", err)
	}
	return n, nil
}

func (r *PGRepository) LatestRun(ctx context.Context, snapshotID string) (Run, error) {
	const query = `
		SELECT id, snapshot_id, engine_version, created_at
		FROM audit_runs
		WHERE snapshot_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var run Run
	if err := r.pool.QueryRow(ctx, query, snapshotID).
		Scan(&run.ID, &run.SnapshotID, &run.EngineVersion, &run.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrNoRun
		}
		return Run{}, fmt.Errorf("audit: latest run: %w", err)
	}
	return run, nil
}

func (r *PGRepository) ListFindings(ctx context.Context, runID string) ([]Finding, error) {
	const query = `
		SELECT id, audit_run_id, position, rule_id, severity, title, description, tradeline_id
		FROM audit_findings
		WHERE audit_run_id = $1
		ORDER BY position ASC
	`
	return r.queryFindings(ctx, query, runID)
}

// FindingsForClient loads findings by id that belong to audits of the
// client's snapshots. Unknown ids and other clients' findings are skipped.
func (r *PGRepository) FindingsForClient(ctx context.Context, clientID string, ids []string) ([]Finding, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `
		SELECT f.id, f.audit_run_id, f.position, f.rule_id, f.severity, f.title, f.description, f.tradeline_id
		FROM audit_findings f
		JOIN audit_runs ar ON ar.id = f.audit_run_id
		JOIN report_snapshots s ON s.id = ar.snapshot_id
		WHERE s.client_id = $1 AND f.id::text = ANY($2::text[])
		ORDER BY ar.created_at, f.position ASC
	`
	return r.queryFindings(ctx, query, clientID, ids)
}

func (r *PGRepository) queryFindings(ctx context.Context, query string, args ...any) ([]Finding, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list findings: %w", err)
	}
	defer rows.Close()

	out := make([]Finding, 0, 16)
	for rows.Next() {
		var (
			f        Finding
			severity int16
		)
		if err := rows.Scan(&f.ID, &f.AuditRunID, &f.Position, &f.RuleID, &severity, &f.Title, &f.Description, &f.TradelineID); err != nil {
			return nil, fmt.Errorf("audit: scan finding: %w", err)
		}
		f.Severity = int(severity)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate findings: %w", err)
	}
	return out, nil
}
