package dispute

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/audit"
	"creditflow/config"
	"creditflow/db"
	"creditflow/metrics"
	"creditflow/task"
)

// FindingSource resolves selected findings, scoped to one client.
type FindingSource interface {
	FindingsForClient(ctx context.Context, clientID string, ids []string) ([]audit.Finding, error)
}

// TaskCreator writes follow-up tasks on the caller's transaction.
type TaskCreator interface {
	Create(ctx context.Context, q db.Querier, params task.CreateParams) (task.Task, error)
}

// Service drives the dispute lifecycle.
type Service struct {
	pool     db.TxBeginner
	repo     Repository
	findings FindingSource
	tasks    TaskCreator
	access   access.Authorizer
	activity activity.Writer
	dueDays  int
	now      func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, findings FindingSource, tasks TaskCreator, authz access.Authorizer, log activity.Writer, cfg config.DisputeConfig) *Service {
	dueDays := cfg.DueDays
	if dueDays <= 0 {
		dueDays = 35
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		findings: findings,
		tasks:    tasks,
		access:   authz,
		activity: log,
		dueDays:  dueDays,
		now:      time.Now,
	}
}

// WithClock overrides the time source used for sent and due dates.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Create opens a DRAFT dispute with one item per selected finding of the client.
func (s *Service) Create(ctx context.Context, actor access.Actor, req CreateRequest) (CreateResult, error) {
	bureau := strings.ToUpper(strings.TrimSpace(req.Bureau))
	if req.ClientID == "" {
		return CreateResult{}, fmt.Errorf("%w: client id is required", ErrValidation)
	}
	if !ValidBureau(bureau) {
		return CreateResult{}, fmt.Errorf("%w: unknown bureau %q", ErrValidation, req.Bureau)
	}
	round := req.Round
	if round == 0 {
		round = 1
	}
	if round < 1 || round > MaxRound {
		return CreateResult{}, fmt.Errorf("%w: round must be between 1 and %d", ErrValidation, MaxRound)
	}
	if err := s.access.Require(ctx, actor, req.ClientID); err != nil {
		return CreateResult{}, err
	}

	ids := make([]string, 0, len(req.FindingIDs))
	for _, id := range req.FindingIDs {
		if _, err := uuid.Parse(id); err == nil {
			ids = append(ids, id)
		}
	}
	findings, err := s.findings.FindingsForClient(ctx, req.ClientID, ids)
	if err != nil {
		return CreateResult{}, err
	}

	items := make([]ItemInput, len(findings))
	for i, f := range findings {
		items[i] = ItemInput{
			TradelineID: f.TradelineID,
			Reason:      f.Title + ": " + f.Description,
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CreateResult{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.Create(ctx, tx, req.ClientID, bureau, round)
	if err != nil {
		return CreateResult{}, err
	}
	if err := s.repo.InsertItems(ctx, tx, d.ID, items); err != nil {
		return CreateResult{}, err
	}

	if err := s.activity.Append(ctx, tx, activity.Entry{
		ActorID:  actor.ActorID(),
		ClientID: activity.StringPtr(req.ClientID),
		Action:   activity.ActionDisputeCreated,
		Detail:   fmt.Sprintf("%s R%d items=%d", bureau, round, len(items)),
	}); err != nil {
		return CreateResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CreateResult{}, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return CreateResult{DisputeID: d.ID, Items: len(items)}, nil
}

// UpdateStatus writes a new status. Moving to SENT also stamps the sent and
// due dates, opens a follow-up task due on the due date and logs DISPUTE_SENT.
func (s *Service) UpdateStatus(ctx context.Context, actor access.Actor, disputeID string, req UpdateStatusRequest) (Dispute, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status == "" {
		return Dispute{}, fmt.Errorf("%w: status is required", ErrValidation)
	}

	existing, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if err := s.access.Require(ctx, actor, existing.ClientID); err != nil {
		return Dispute{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if status != StatusSent {
		updated, err := s.repo.UpdateStatus(ctx, tx, disputeID, status, nil, nil)
		if err != nil {
			return Dispute{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Dispute{}, fmt.Errorf("dispute: commit tx: %w", err)
		}
		metrics.Get().DisputesTransition.WithLabelValues(string(status)).Inc()
		return updated, nil
	}

	now := s.now()
	sentAt := now
	if req.SentAt != nil {
		sentAt = *req.SentAt
	}
	dueAt := now.Add(time.Duration(s.dueDays) * 24 * time.Hour)

	updated, err := s.repo.UpdateStatus(ctx, tx, disputeID, status, &sentAt, &dueAt)
	if err != nil {
		return Dispute{}, err
	}

	if _, err := s.tasks.Create(ctx, tx, task.CreateParams{
		ClientID: updated.ClientID,
		Type:     task.TypeDisputeFollowup,
		Title:    fmt.Sprintf("Follow up on %s Round %d", updated.Bureau, updated.Round),
		DueAt:    &dueAt,
	}); err != nil {
		return Dispute{}, err
	}

	if err := s.activity.Append(ctx, tx, activity.Entry{
		ActorID:  actor.ActorID(),
		ClientID: activity.StringPtr(updated.ClientID),
		Action:   activity.ActionDisputeSent,
		Detail:   fmt.Sprintf("%s R%d", updated.Bureau, updated.Round),
	}); err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit tx: %w", err)
	}
	metrics.Get().DisputesTransition.WithLabelValues(string(status)).Inc()

	updated.Items = existing.Items
	updated.Letters = existing.Letters
	return updated, nil
}

// Get returns one dispute with items and letters.
func (s *Service) Get(ctx context.Context, actor access.Actor, disputeID string) (Dispute, error) {
	d, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if err := s.access.Require(ctx, actor, d.ClientID); err != nil {
		return Dispute{}, err
	}
	return d, nil
}

// ListForClient returns the client's disputes, newest first.
func (s *Service) ListForClient(ctx context.Context, actor access.Actor, clientID string) ([]Dispute, error) {
	if err := s.access.Require(ctx, actor, clientID); err != nil {
		return nil, err
	}
	return s.repo.ListForClient(ctx, clientID, 0)
}
