package report

import (
	"context"
	"fmt"
	"strings"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/db"
)

// Service manages credit report snapshots and their tradelines.
type Service struct {
	pool     db.TxBeginner
	repo     Repository
	access   access.Authorizer
	activity activity.Writer
}

func NewService(pool db.TxBeginner, repo Repository, authz access.Authorizer, log activity.Writer) *Service {
	return &Service{pool: pool, repo: repo, access: authz, activity: log}
}

// CreateSnapshot records a new snapshot for the client and logs SNAPSHOT_CREATED.
func (s *Service) CreateSnapshot(ctx context.Context, actor access.Actor, req CreateSnapshotRequest) (Snapshot, error) {
	if req.ClientID == "" {
		return Snapshot{}, fmt.Errorf("%w: client id is required", ErrValidation)
	}
	if err := s.access.Require(ctx, actor, req.ClientID); err != nil {
		return Snapshot{}, err
	}

	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		provider = DefaultProvider
	}
	reportType := strings.TrimSpace(req.ReportType)
	if reportType == "" {
		reportType = DefaultReportType
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("report: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := s.repo.CreateSnapshot(ctx, tx, req.ClientID, provider, reportType)
	if err != nil {
		return Snapshot{}, err
	}

	if err := s.activity.Append(ctx, tx, activity.Entry{
		ActorID:  actor.ActorID(),
		ClientID: activity.StringPtr(req.ClientID),
		Action:   activity.ActionSnapshotCreated,
		Detail:   snap.ID,
	}); err != nil {
		return Snapshot{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("report: commit tx: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns a client's snapshots, newest first.
func (s *Service) ListSnapshots(ctx context.Context, actor access.Actor, clientID string) ([]Snapshot, error) {
	if err := s.access.Require(ctx, actor, clientID); err != nil {
		return nil, err
	}
	return s.repo.ListSnapshots(ctx, clientID)
}

// GetSnapshot loads a snapshot the actor is allowed to see.
func (s *Service) GetSnapshot(ctx context.Context, actor access.Actor, snapshotID string) (Snapshot, error) {
	snap, err := s.repo.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.access.Require(ctx, actor, snap.ClientID); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// AddTradeline appends a manually entered tradeline to a snapshot.
func (s *Service) AddTradeline(ctx context.Context, actor access.Actor, snapshotID string, in TradelineInput) (Tradeline, error) {
	if strings.TrimSpace(in.Furnisher) == "" || strings.TrimSpace(in.AccountType) == "" || strings.TrimSpace(in.Status) == "" {
		return Tradeline{}, fmt.Errorf("%w: furnisher, account type and status are required", ErrValidation)
	}
	if _, err := s.GetSnapshot(ctx, actor, snapshotID); err != nil {
		return Tradeline{}, err
	}
	return s.repo.AddTradeline(ctx, snapshotID, in)
}

// ListTradelines returns a snapshot's tradelines in insertion order.
func (s *Service) ListTradelines(ctx context.Context, actor access.Actor, snapshotID string) ([]Tradeline, error) {
	if _, err := s.GetSnapshot(ctx, actor, snapshotID); err != nil {
		return nil, err
	}
	return s.repo.ListTradelines(ctx, snapshotID)
}
