// Package dispute manages bureau disputes through their rounds.
package dispute

import "time"

// Status is stored verbatim; only SENT carries side effects.
type Status string

const (
	StatusDraft Status = "DRAFT"
	StatusSent  Status = "SENT"
)

const MaxRound = 3

var bureauNames = map[string]string{
	"EX": "Experian",
	"EQ": "Equifax",
	"TU": "TransUnion",
}

// ValidBureau reports whether code is one of EX, EQ, TU.
func ValidBureau(code string) bool {
	_, ok := bureauNames[code]
	return ok
}

// BureauName returns the bureau's display name, or the code itself when unknown.
func BureauName(code string) string {
	if name, ok := bureauNames[code]; ok {
		return name
	}
	return code
}

// Dispute mirrors the disputes table with its items and letters.
type Dispute struct {
	ID        string
	ClientID  string
	Bureau    string
	Round     int
	Status    Status
	SentAt    *time.Time
	DueAt     *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	Items     []Item
	Letters   []Letter
}

// Item is one disputed line, usually derived from an audit finding.
type Item struct {
	ID          string
	DisputeID   string
	Position    int
	TradelineID *string
	Reason      string
}

// ItemInput is the writable part of an Item.
type ItemInput struct {
	TradelineID *string
	Reason      string
}

// Letter is a generated dispute letter stored in object storage.
type Letter struct {
	ID         string
	DisputeID  string
	TemplateID string
	PDFKey     string
	CreatedAt  time.Time
}

// CreateRequest opens a DRAFT dispute from selected audit findings.
type CreateRequest struct {
	ClientID   string
	Bureau     string
	Round      int
	FindingIDs []string
}

// CreateResult reports the new dispute and how many items it received.
type CreateResult struct {
	DisputeID string
	Items     int
}

// UpdateStatusRequest changes a dispute's status. SentAt defaults to now for SENT.
type UpdateStatusRequest struct {
	Status string
	SentAt *time.Time
}

// ReminderTarget is a SENT dispute joined with the client contact details
// needed to mail a reminder.
type ReminderTarget struct {
	Dispute     Dispute
	ClientEmail string
	ClientName  string
}
