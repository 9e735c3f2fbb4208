// Package audit evaluates tradelines against the audit rules and keeps the
// history of audit runs.
package audit

import "time"

// Run mirrors audit_runs. A new run is written on every audit invocation.
type Run struct {
	ID            string
	SnapshotID    string
	EngineVersion string
	CreatedAt     time.Time
}

// Finding is one rule hit. Position preserves evaluation order within a run.
type Finding struct {
	ID          string
	AuditRunID  string
	Position    int
	RuleID      string
	Severity    int
	Title       string
	Description string
	TradelineID *string
}

// Result summarizes a completed audit.
type Result struct {
	AuditRunID    string
	FindingsCount int
}

// Latest is the most recent run of a snapshot; Run is nil when none exists.
type Latest struct {
	Run      *Run
	Findings []Finding
}
