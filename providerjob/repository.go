// Package providerjob queues raw provider report imports and drains them
// into report snapshots.
package providerjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"creditflow/db"
)

var (
	ErrValidation   = errors.New("providerjob: validation failed")
	ErrEventMissing = errors.New("provider event missing")
	ErrNoClient     = errors.New("client id required")
)

type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// KindImportReport is the only job kind.
const KindImportReport = "IMPORT_REPORT"

// Job mirrors the provider_jobs table.
type Job struct {
	ID        string
	Provider  string
	Kind      string
	ClientID  *string
	Status    Status
	Error     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event is a raw payload received from a provider.
type Event struct {
	ID          string
	Provider    string
	ClientID    *string
	Type        string
	ProviderRef *string
	RawJSON     []byte
	ReceivedAt  time.Time
}

// Repository persists provider events and jobs.
type Repository interface {
	InsertEvent(ctx context.Context, q db.Querier, e Event) (string, error)
	InsertJob(ctx context.Context, q db.Querier, provider, kind string, clientID *string) (string, error)
	ClaimQueued(ctx context.Context, limit int) ([]Job, error)
	LatestEvent(ctx context.Context, provider, clientID string) (Event, error)
	Finish(ctx context.Context, q db.Querier, jobID string, status Status, errMsg *string) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) InsertEvent(ctx context.Context, q db.Querier, e Event) (string, error) {
	const insertSQL = `
		INSERT INTO provider_events (provider, client_id, type, provider_ref, raw_json)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING id
	`
	var id string
	if err := q.QueryRow(ctx, insertSQL, e.Provider, e.ClientID, e.Type, e.ProviderRef, string(e.RawJSON)).Scan(&id); err != nil {
		if db.IsForeignKeyViolation(err) {
			return "", fmt.Errorf("%w: unknown client", ErrValidation)
		}
		return "", fmt.Errorf("providerjob: insert event: %w", err)
	}
	return id, nil
}

func (r *PGRepository) InsertJob(ctx context.Context, q db.Querier, provider, kind string, clientID *string) (string, error) {
	const insertSQL = `
		INSERT INTO provider_jobs (provider, kind, client_id, status)
		VALUES ($1, $2, $3, 'QUEUED')
		RETURNING id
	`
	var id string
	if err := q.QueryRow(ctx, insertSQL, provider, kind, clientID).Scan(&id); err != nil {
		if db.IsForeignKeyViolation(err) {
			return "", fmt.Errorf("%w: unknown client", ErrValidation)
		}
		return "", fmt.Errorf("providerjob: insert job: %w", err)
	}
	return id, nil
}

// ClaimQueued moves up to limit of the oldest QUEUED jobs to RUNNING and
// returns them. Rows locked by a concurrent claimer are skipped.
func (r *PGRepository) ClaimQueued(ctx context.Context, limit int) ([]Job, error) {
	const claimSQL = `
		UPDATE provider_jobs
		SET status = 'RUNNING', updated_at = clock_timestamp()
		WHERE id IN (
			SELECT id FROM provider_jobs
			WHERE status = 'QUEUED'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, provider, kind, client_id, status, error, created_at, updated_at
	`
	rows, err := r.pool.Query(ctx, claimSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("providerjob: claim: %w", err)
	}
	defer rows.Close()

	out := make([]Job, 0, limit)
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Provider, &j.Kind, &j.ClientID, &j.Status, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("providerjob: scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("providerjob: iterate jobs: %w", err)
	}
	return out, nil
}

// LatestEvent returns the newest event of the provider for the client.
func (r *PGRepository) LatestEvent(ctx context.Context, provider, clientID string) (Event, error) {
	const query = `
		SELECT id, provider, client_id, type, provider_ref, raw_json::text, received_at
		FROM provider_events
		WHERE provider = $1 AND client_id = $2
		ORDER BY received_at DESC
		LIMIT 1
	`
	var (
		e   Event
		raw string
	)
	if err := r.pool.QueryRow(ctx, query, provider, clientID).
		Scan(&e.ID, &e.Provider, &e.ClientID, &e.Type, &e.ProviderRef, &raw, &e.ReceivedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventMissing
		}
		return Event{}, fmt.Errorf("providerjob: latest event: %w", err)
	}
	e.RawJSON = []byte(raw)
	return e, nil
}

func (r *PGRepository) Finish(ctx context.Context, q db.Querier, jobID string, status Status, errMsg *string) error {
	const updateSQL = `
		UPDATE provider_jobs
		SET status = $2, error = $3, updated_at = clock_timestamp()
		WHERE id = $1
	`
	if _, err := q.Exec(ctx, updateSQL, jobID, status, errMsg); err != nil {
		return fmt.Errorf("providerjob: finish %s: %w", jobID, err)
	}
	return nil
}
