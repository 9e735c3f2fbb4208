package client

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/auth"
	"creditflow/db"
	notify "creditflow/mail"
)

// PortalInviter creates an inactive portal user for a client and returns
// the raw invite token.
type PortalInviter interface {
	InvitePortalUser(ctx context.Context, q db.Querier, email, clientID string) (auth.User, string, error)
}

// Service exposes client operations to staff.
type Service struct {
	pool      db.TxBeginner
	repo      Repository
	inviter   PortalInviter
	sender    notify.Sender
	access    access.Authorizer
	activity  activity.Writer
	portalURL string
	logger    *zap.Logger
}

func NewService(pool db.TxBeginner, repo Repository, inviter PortalInviter, sender notify.Sender, authz access.Authorizer, log activity.Writer, portalURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if portalURL == "" {
		portalURL = "http://localhost:3002"
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		inviter:   inviter,
		sender:    sender,
		access:    authz,
		activity:  log,
		portalURL: strings.TrimRight(portalURL, "/"),
		logger:    logger,
	}
}

// ListForUser returns every client to ADMIN and assigned clients to STAFF.
func (s *Service) ListForUser(ctx context.Context, actor access.Actor) ([]Client, error) {
	switch actor.Role {
	case auth.RoleAdmin:
		return s.repo.ListAll(ctx)
	case auth.RoleStaff:
		return s.repo.ListAssigned(ctx, actor.UserID)
	default:
		return nil, access.ErrForbidden
	}
}

// Get returns one client the actor may access.
func (s *Service) Get(ctx context.Context, actor access.Actor, clientID string) (Client, error) {
	c, err := s.repo.Get(ctx, clientID)
	if err != nil {
		return Client{}, err
	}
	if err := s.access.Require(ctx, actor, clientID); err != nil {
		return Client{}, err
	}
	return c, nil
}

// Create stores a client, assigns the creator as OWNER and, when the client
// has an email, invites a portal user. The invite mail goes out after commit;
// a delivery failure is logged and does not undo the client.
func (s *Service) Create(ctx context.Context, actor access.Actor, req CreateRequest) (Client, error) {
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	if first == "" || last == "" {
		return Client{}, fmt.Errorf("%w: first and last name are required", ErrValidation)
	}

	var email *string
	if e := strings.ToLower(strings.TrimSpace(req.Email)); e != "" {
		if _, err := mail.ParseAddress(e); err != nil {
			return Client{}, fmt.Errorf("%w: invalid email %q", ErrValidation, req.Email)
		}
		email = &e
	}
	var phone *string
	if p := strings.TrimSpace(req.Phone); p != "" {
		phone = &p
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Client{}, fmt.Errorf("client: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.Create(ctx, tx, CreateParams{FirstName: first, LastName: last, Email: email, Phone: phone})
	if err != nil {
		return Client{}, err
	}

	if actor.UserID != "" {
		if _, err := s.repo.UpsertAssignment(ctx, tx, c.ID, actor.UserID, AssignmentOwner); err != nil {
			return Client{}, err
		}
	}

	var invite *notify.InviteParams
	if email != nil && (req.CreatePortalUser == nil || *req.CreatePortalUser) {
		user, raw, err := s.inviter.InvitePortalUser(ctx, tx, *email, c.ID)
		if err != nil {
			return Client{}, err
		}
		if err := s.activity.Append(ctx, tx, activity.Entry{
			ActorID:  actor.ActorID(),
			ClientID: activity.StringPtr(c.ID),
			Action:   activity.ActionClientInvited,
			Detail:   user.Email,
		}); err != nil {
			return Client{}, err
		}
		invite = &notify.InviteParams{
			To:         user.Email,
			ClientName: c.FullName(),
			InviteLink: s.portalURL + "/set-password?token=" + raw,
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Client{}, fmt.Errorf("client: commit tx: %w", err)
	}

	if invite != nil {
		if err := s.sender.SendClientInvite(ctx, *invite); err != nil {
			s.logger.Warn("client invite not delivered",
				zap.String("client_id", c.ID),
				zap.Error(err),
			)
		}
	}
	return c, nil
}

// Assign grants a user a role on a client. Only ADMIN may assign.
func (s *Service) Assign(ctx context.Context, actor access.Actor, req AssignRequest) (Assignment, error) {
	if actor.Role != auth.RoleAdmin {
		return Assignment{}, access.ErrForbidden
	}
	role := strings.TrimSpace(req.Role)
	if req.ClientID == "" || req.UserID == "" || role == "" {
		return Assignment{}, fmt.Errorf("%w: client id, user id and role are required", ErrValidation)
	}
	if !db.ValidID(req.ClientID) || !db.ValidID(req.UserID) {
		return Assignment{}, fmt.Errorf("%w: malformed client or user id", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Assignment{}, fmt.Errorf("client: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.UpsertAssignment(ctx, tx, req.ClientID, req.UserID, role)
	if err != nil {
		return Assignment{}, err
	}

	if err := s.activity.Append(ctx, tx, activity.Entry{
		ActorID:  actor.ActorID(),
		ClientID: activity.StringPtr(req.ClientID),
		Action:   activity.ActionClientAssigned,
		Detail:   fmt.Sprintf("user=%s role=%s", req.UserID, role),
	}); err != nil {
		return Assignment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Assignment{}, fmt.Errorf("client: commit tx: %w", err)
	}
	return a, nil
}

// ListAssignments returns the team of a client.
func (s *Service) ListAssignments(ctx context.Context, actor access.Actor, clientID string) ([]Assignment, error) {
	if err := s.access.Require(ctx, actor, clientID); err != nil {
		return nil, err
	}
	return s.repo.ListAssignments(ctx, clientID)
}
