package models

import "time"

// Application statuses. Approval moves straight to ready-for-download; there
// is no separate approved waiting state. Rejected is terminal.
const (
	StatusSubmitted        = "Submitted"
	StatusPendingReview    = "PendingReview"
	StatusReadyForDownload = "ReadyForDownload"
	StatusRejected         = "Rejected"
)

// Roles allowed on the workflow endpoints.
const (
	RoleSubmitter = "submitter"
	RoleReviewer  = "reviewer"
)

// Application tracks one verification request through the review workflow.
// Method and SessionID are empty until approval binds them, immutable after.
type Application struct {
	ID          string `gorm:"type:varchar(255);primary_key"`
	Direction   string `gorm:"type:varchar(255)"`
	VillageName string `gorm:"type:varchar(255)"`
	ChosenIndex int
	// PreviousID references a rejected application this one retries, for
	// audit only.
	PreviousID  string `gorm:"type:varchar(255)"`
	Status      string `gorm:"type:varchar(255)"`
	Method      string `gorm:"type:varchar(255)"`
	SessionID   string `gorm:"type:varchar(255)"`
	SubmittedAt time.Time
}

// ActivityLogEntry is one append-only line of an application's history.
type ActivityLogEntry struct {
	ID            int64  `gorm:"primary_key"`
	ApplicationID string `gorm:"type:varchar(255);index"`
	Description   string `gorm:"type:varchar(255)"`
	CreatedAt     time.Time
}
