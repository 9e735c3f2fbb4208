// Package client manages client records and their staff assignments.
package client

import "time"

// AssignmentOwner is the role given to the staff member who creates a client.
const AssignmentOwner = "OWNER"

// Client mirrors the clients table.
type Client struct {
	ID        string
	FirstName string
	LastName  string
	Email     *string
	Phone     *string
	CreatedAt time.Time
}

// FullName returns "first last".
func (c Client) FullName() string {
	return c.FirstName + " " + c.LastName
}

// Assignment links a staff user to a client.
type Assignment struct {
	ClientID  string
	UserID    string
	UserEmail string
	Role      string
	CreatedAt time.Time
}

// CreateParams contains write parameters for a client row.
type CreateParams struct {
	FirstName string
	LastName  string
	Email     *string
	Phone     *string
}

// CreateRequest is the staff-facing create input. A portal user is invited
// unless CreatePortalUser is explicitly false or the client has no email.
type CreateRequest struct {
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	CreatePortalUser *bool
}

// AssignRequest grants a user a role on a client.
type AssignRequest struct {
	ClientID string
	UserID   string
	Role     string
}
