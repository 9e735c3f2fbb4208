package report

import "time"

const (
	DefaultProvider   = "MANUAL"
	DefaultReportType = "TRIMERGE"
)

// Snapshot mirrors report_snapshots: one pulled credit report for a client.
type Snapshot struct {
	ID         string
	ClientID   string
	Provider   string
	ReportType string
	PulledAt   time.Time
}

// Tradeline mirrors the tradelines table.
type Tradeline struct {
	ID            string
	SnapshotID    string
	Furnisher     string
	AccountType   string
	Status        string
	Bureau        *string
	Balance       *int64
	Limit         *int64
	PaymentStatus *string
	Remarks       *string
	OpenedDate    *time.Time
	CreatedAt     time.Time
}

// TradelineInput is the writable part of a tradeline.
type TradelineInput struct {
	Furnisher     string
	AccountType   string
	Status        string
	Bureau        *string
	Balance       *int64
	Limit         *int64
	PaymentStatus *string
	Remarks       *string
	OpenedDate    *time.Time
}

// CreateSnapshotRequest is accepted by Service.CreateSnapshot. Empty provider
// and report type fall back to MANUAL and TRIMERGE.
type CreateSnapshotRequest struct {
	ClientID   string
	Provider   string
	ReportType string
}
