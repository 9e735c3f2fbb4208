package providerjob

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/db"
	"creditflow/metrics"
	"creditflow/report"
)

// SnapshotWriter creates snapshots and bulk-loads their tradelines.
type SnapshotWriter interface {
	CreateSnapshot(ctx context.Context, q db.Querier, clientID, provider, reportType string) (report.Snapshot, error)
	CopyTradelines(ctx context.Context, tx pgx.Tx, snapshotID string, in []report.TradelineInput) (int64, error)
}

// ImportRequest is a staff-submitted raw provider payload.
type ImportRequest struct {
	ClientID string
	Provider string
	JSON     string
}

// EnqueueResult identifies the stored event and queued job.
type EnqueueResult struct {
	EventID string
	JobID   string
}

// RunSummary counts the outcome of one drain.
type RunSummary struct {
	Done   int
	Failed int
}

// Service enqueues and processes provider imports.
type Service struct {
	pool      db.TxBeginner
	repo      Repository
	snapshots SnapshotWriter
	access    access.Authorizer
	activity  activity.Writer
	logger    *zap.Logger
}

func NewService(pool db.TxBeginner, repo Repository, snapshots SnapshotWriter, authz access.Authorizer, log activity.Writer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{pool: pool, repo: repo, snapshots: snapshots, access: authz, activity: log, logger: logger}
}

// Enqueue validates the payload, stores it as an event and queues an import job.
func (s *Service) Enqueue(ctx context.Context, actor access.Actor, req ImportRequest) (EnqueueResult, error) {
	provider := strings.TrimSpace(req.Provider)
	if req.ClientID == "" || provider == "" {
		return EnqueueResult{}, fmt.Errorf("%w: client id and provider are required", ErrValidation)
	}
	if err := s.access.Require(ctx, actor, req.ClientID); err != nil {
		return EnqueueResult{}, err
	}
	payload, err := ParsePayload([]byte(req.JSON))
	if err != nil {
		return EnqueueResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("providerjob: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	clientID := req.ClientID
	eventID, err := s.repo.InsertEvent(ctx, tx, Event{
		Provider:    provider,
		ClientID:    &clientID,
		Type:        KindImportReport,
		ProviderRef: payload.ID,
		RawJSON:     []byte(req.JSON),
	})
	if err != nil {
		return EnqueueResult{}, err
	}
	jobID, err := s.repo.InsertJob(ctx, tx, provider, KindImportReport, &clientID)
	if err != nil {
		return EnqueueResult{}, err
	}

	if err := s.activity.Append(ctx, tx, activity.Entry{
		ActorID:  actor.ActorID(),
		ClientID: activity.StringPtr(clientID),
		Action:   activity.ActionProviderImportEnqueued,
		Detail:   fmt.Sprintf("%s job=%s", provider, jobID),
	}); err != nil {
		return EnqueueResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return EnqueueResult{}, fmt.Errorf("providerjob: commit tx: %w", err)
	}
	return EnqueueResult{EventID: eventID, JobID: jobID}, nil
}

// RunQueued processes up to limit queued jobs, oldest first. A failing job
// is marked FAILED with its error and the drain moves on; only failing to
// claim jobs is returned as an error.
func (s *Service) RunQueued(ctx context.Context, limit int) (RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	jobs, err := s.repo.ClaimQueued(ctx, limit)
	if err != nil {
		return RunSummary{}, err
	}

	m := metrics.Get()
	var sum RunSummary
	for _, job := range jobs {
		if err := s.process(ctx, job); err != nil {
			sum.Failed++
			m.ProviderJobsTotal.WithLabelValues(string(StatusFailed)).Inc()
			s.logger.Warn("provider job failed",
				zap.String("job_id", job.ID),
				zap.String("provider", job.Provider),
				zap.Error(err),
			)
			if ferr := s.markFailed(ctx, job.ID, err.Error()); ferr != nil {
				s.logger.Error("mark provider job failed", zap.String("job_id", job.ID), zap.Error(ferr))
			}
			continue
		}
		sum.Done++
		m.ProviderJobsTotal.WithLabelValues(string(StatusDone)).Inc()
	}
	return sum, nil
}

func (s *Service) process(ctx context.Context, job Job) error {
	if job.ClientID == nil || *job.ClientID == "" {
		return ErrNoClient
	}
	clientID := *job.ClientID

	evt, err := s.repo.LatestEvent(ctx, job.Provider, clientID)
	if err != nil {
		return err
	}
	payload, err := ParsePayload(evt.RawJSON)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("providerjob: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := s.snapshots.CreateSnapshot(ctx, tx, clientID, job.Provider, report.DefaultReportType)
	if err != nil {
		return err
	}
	if inputs := payload.TradelineInputs(); len(inputs) > 0 {
		if _, err := s.snapshots.CopyTradelines(ctx, tx, snap.ID, inputs); err != nil {
			return err
		}
	}

	if err := s.activity.Append(ctx, tx, activity.Entry{
		ClientID: activity.StringPtr(clientID),
		Action:   activity.ActionProviderImport,
		Detail:   fmt.Sprintf("%s snapshot=%s", job.Provider, snap.ID),
	}); err != nil {
		return err
	}
	if err := s.repo.Finish(ctx, tx, job.ID, StatusDone, nil); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("providerjob: commit tx: %w", err)
	}
	return nil
}

func (s *Service) markFailed(ctx context.Context, jobID, msg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("providerjob: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Finish(ctx, tx, jobID, StatusFailed, &msg); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("providerjob: commit tx: %w", err)
	}
	return nil
}
