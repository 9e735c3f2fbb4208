// Package access decides whether a user may act on a client's records.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"creditflow/auth"
	"creditflow/db"
)

// ErrForbidden is returned by Require when the actor may not touch the client.
var ErrForbidden = errors.New("access: forbidden")

// Actor identifies the authenticated caller of a domain operation.
// A zero Actor is the system itself (scheduler, job drain).
type Actor struct {
	UserID string
	Role   auth.Role
}

// ActorID returns a pointer suitable for nullable actor columns.
func (a Actor) ActorID() *string {
	if a.UserID == "" {
		return nil
	}
	id := a.UserID
	return &id
}

// Store answers the two lookups the check depends on.
type Store interface {
	HasAssignment(ctx context.Context, userID, clientID string) (bool, error)
	// PortalClientID returns the client a CLIENT user is linked to, or "" when unlinked.
	PortalClientID(ctx context.Context, userID string) (string, error)
}

// Checker evaluates access on every call; results are never cached.
type Checker struct {
	store Store
}

func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// CanAccess reports whether userID acting as role may access clientID.
// ADMIN always may. STAFF may when assigned. CLIENT may only for its linked client.
func (c *Checker) CanAccess(ctx context.Context, userID string, role auth.Role, clientID string) (bool, error) {
	if !db.ValidID(clientID) {
		return false, nil
	}
	switch role {
	case auth.RoleAdmin:
		return true, nil
	case auth.RoleStaff:
		ok, err := c.store.HasAssignment(ctx, userID, clientID)
		if err != nil {
			return false, fmt.Errorf("access: assignment lookup: %w", err)
		}
		return ok, nil
	case auth.RoleClient:
		linked, err := c.store.PortalClientID(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("access: portal link lookup: %w", err)
		}
		return linked != "" && linked == clientID, nil
	default:
		return false, nil
	}
}

// Require returns ErrForbidden unless the actor can access clientID.
func (c *Checker) Require(ctx context.Context, actor Actor, clientID string) error {
	ok, err := c.CanAccess(ctx, actor.UserID, actor.Role, clientID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// PGStore implements Store backed by PostgreSQL.
type PGStore struct {
	pool db.Querier
}

func NewStore(pool db.Querier) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) HasAssignment(ctx context.Context, userID, clientID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM client_assignments WHERE user_id = $1 AND client_id = $2
		)
	`
	var ok bool
	if err := s.pool.QueryRow(ctx, query, userID, clientID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *PGStore) PortalClientID(ctx context.Context, userID string) (string, error) {
	const query = `SELECT client_id FROM client_portal_links WHERE user_id = $1`
	var clientID string
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&clientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return clientID, nil
}

// Authorizer is the check domain services depend on; *Checker satisfies it.
type Authorizer interface {
	Require(ctx context.Context, actor Actor, clientID string) error
}
