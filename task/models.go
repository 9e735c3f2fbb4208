// Package task manages staff follow-up tasks.
package task

import "time"

type Status string

const (
	StatusOpen Status = "OPEN"
	StatusDone Status = "DONE"
)

const (
	TypeGeneral         = "GENERAL"
	TypeDisputeFollowup = "DISPUTE_FOLLOWUP"
	TypeRound2Prep      = "ROUND_2_PREP"
	TypeRound3Prep      = "ROUND_3_PREP"
)

// Task mirrors the tasks table. DedupeKey is set only on automatically
// created tasks; at most one OPEN task exists per key.
type Task struct {
	ID         string
	ClientID   string
	Type       string
	Title      string
	Notes      *string
	Status     Status
	DueAt      *time.Time
	AssignedTo *string
	DedupeKey  *string
	CreatedAt  time.Time
}

// CreateParams contains write parameters for a task row.
type CreateParams struct {
	ClientID   string
	Type       string
	Title      string
	Notes      *string
	DueAt      *time.Time
	AssignedTo *string
	DedupeKey  *string
}

// CreateRequest is the staff-facing create input.
type CreateRequest struct {
	ClientID   string
	Title      string
	Notes      *string
	Type       string
	AssignedTo *string
	DueAt      *time.Time
}
