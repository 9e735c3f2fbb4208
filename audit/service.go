package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/db"
	"creditflow/metrics"
	"creditflow/report"
)

// SnapshotSource loads the input of an audit.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, snapshotID string) (report.Snapshot, error)
	ListTradelines(ctx context.Context, snapshotID string) ([]report.Tradeline, error)
}

// Service orchestrates audit runs.
type Service struct {
	pool      db.TxBeginner
	repo      Repository
	snapshots SnapshotSource
	access    access.Authorizer
	activity  activity.Writer
	logger    *zap.Logger
}

func NewService(pool db.TxBeginner, repo Repository, snapshots SnapshotSource, authz access.Authorizer, log activity.Writer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		snapshots: snapshots,
		access:    authz,
		activity:  log,
		logger:    logger,
	}
}

// RunAudit evaluates a snapshot's tradelines and persists a new run with all
// its findings. Every call creates a new run; earlier runs are left intact.
func (s *Service) RunAudit(ctx context.Context, actor access.Actor, snapshotID string) (Result, error) {
	snap, err := s.snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return Result{}, err
	}
	if err := s.access.Require(ctx, actor, snap.ClientID); err != nil {
		return Result{}, err
	}

	tradelines, err := s.snapshots.ListTradelines(ctx, snapshotID)
	if err != nil {
		return Result{}, err
	}

	findings := Evaluate(tradelines)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("audit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	run, err := s.repo.CreateRun(ctx, tx, snapshotID, EngineVersion)
	if err != nil {
		return Result{}, err
	}

	if _, err := s.repo.InsertFindings(ctx, tx, run.ID, findings); err != nil {
		return Result{}, err
	}

	if err := s.activity.Append(ctx, tx, activity.Entry{
		ActorID:  actor.ActorID(),
		ClientID: activity.StringPtr(snap.ClientID),
		Action:   activity.ActionAuditRan,
		Detail:   fmt.Sprintf("snapshot=%s findings=%d", snapshotID, len(findings)),
	}); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("audit: commit tx: %w", err)
	}

	m := metrics.Get()
	m.AuditsTotal.Inc()
	for _, f := range findings {
		m.FindingsTotal.WithLabelValues(f.RuleID).Inc()
	}
	s.logger.Info("audit completed",
		zap.String("snapshot_id", snapshotID),
		zap.String("audit_run_id", run.ID),
		zap.Int("findings", len(findings)),
	)

	return Result{AuditRunID: run.ID, FindingsCount: len(findings)}, nil
}

// LatestFindings returns the most recent run of a snapshot and its findings.
func (s *Service) LatestFindings(ctx context.Context, actor access.Actor, snapshotID string) (Latest, error) {
	snap, err := s.snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return Latest{}, err
	}
	if err := s.access.Require(ctx, actor, snap.ClientID); err != nil {
		return Latest{}, err
	}
	return s.Latest(ctx, snapshotID)
}

// Latest loads the newest run without an access check; callers have already
// resolved the snapshot for an authorized actor.
func (s *Service) Latest(ctx context.Context, snapshotID string) (Latest, error) {
	run, err := s.repo.LatestRun(ctx, snapshotID)
	if err != nil {
		if errors.Is(err, ErrNoRun) {
			return Latest{Findings: []Finding{}}, nil
		}
		return Latest{}, err
	}
	findings, err := s.repo.ListFindings(ctx, run.ID)
	if err != nil {
		return Latest{}, err
	}
	return Latest{Run: &run, Findings: findings}, nil
}
