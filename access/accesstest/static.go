// Package accesstest provides fixed-answer access.Authorizer fakes.
package accesstest

import (
	"context"

	"creditflow/access"
)

// Clients allows access to the listed client ids only.
type Clients map[string]bool

func (c Clients) Require(_ context.Context, _ access.Actor, clientID string) error {
	if !c[clientID] {
		return access.ErrForbidden
	}
	return nil
}

// AllowAll grants every request.
type AllowAll struct{}

func (AllowAll) Require(context.Context, access.Actor, string) error { return nil }
