package task

import (
	"context"
	"fmt"
	"strings"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/auth"
	"creditflow/db"
)

// Service exposes task operations to staff.
type Service struct {
	pool     db.TxBeginner
	repo     Repository
	access   access.Authorizer
	activity activity.Writer
}

func NewService(pool db.TxBeginner, repo Repository, authz access.Authorizer, log activity.Writer) *Service {
	return &Service{pool: pool, repo: repo, access: authz, activity: log}
}

// Create adds a task for a client and logs TASK_CREATED. Type defaults to GENERAL.
func (s *Service) Create(ctx context.Context, actor access.Actor, req CreateRequest) (Task, error) {
	title := strings.TrimSpace(req.Title)
	if req.ClientID == "" || title == "" {
		return Task{}, fmt.Errorf("%w: client id and title are required", ErrValidation)
	}
	if req.AssignedTo != nil && !db.ValidID(*req.AssignedTo) {
		return Task{}, fmt.Errorf("%w: malformed assignee id", ErrValidation)
	}
	if err := s.access.Require(ctx, actor, req.ClientID); err != nil {
		return Task{}, err
	}

	taskType := strings.TrimSpace(req.Type)
	if taskType == "" {
		taskType = TypeGeneral
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Task{}, fmt.Errorf("task: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := s.repo.Create(ctx, tx, CreateParams{
		ClientID:   req.ClientID,
		Type:       taskType,
		Title:      title,
		Notes:      req.Notes,
		DueAt:      req.DueAt,
		AssignedTo: req.AssignedTo,
	})
	if err != nil {
		return Task{}, err
	}

	if err := s.activity.Append(ctx, tx, activity.Entry{
		ActorID:  actor.ActorID(),
		ClientID: activity.StringPtr(req.ClientID),
		Action:   activity.ActionTaskCreated,
		Detail:   t.Title,
	}); err != nil {
		return Task{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Task{}, fmt.Errorf("task: commit tx: %w", err)
	}
	return t, nil
}

// ListOpen returns open tasks. STAFF only see tasks of clients assigned to them.
func (s *Service) ListOpen(ctx context.Context, actor access.Actor) ([]Task, error) {
	if actor.Role == auth.RoleAdmin {
		return s.repo.ListOpen(ctx, "")
	}
	if actor.UserID == "" {
		return nil, access.ErrForbidden
	}
	return s.repo.ListOpen(ctx, actor.UserID)
}

// ListForClient returns every task of a client, open ones first.
func (s *Service) ListForClient(ctx context.Context, actor access.Actor, clientID string) ([]Task, error) {
	if err := s.access.Require(ctx, actor, clientID); err != nil {
		return nil, err
	}
	return s.repo.ListForClient(ctx, clientID)
}

// MarkDone closes a task and logs TASK_DONE.
func (s *Service) MarkDone(ctx context.Context, actor access.Actor, taskID string) (Task, error) {
	existing, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if err := s.access.Require(ctx, actor, existing.ClientID); err != nil {
		return Task{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Task{}, fmt.Errorf("task: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := s.repo.MarkDone(ctx, tx, taskID)
	if err != nil {
		return Task{}, err
	}

	if err := s.activity.Append(ctx, tx, activity.Entry{
		ActorID:  actor.ActorID(),
		ClientID: activity.StringPtr(t.ClientID),
		Action:   activity.ActionTaskDone,
		Detail:   t.Title,
	}); err != nil {
		return Task{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Task{}, fmt.Errorf("task: commit tx: %w", err)
	}
	return t, nil
}
