package models

import "time"

// Outcomes recorded for confirmed actions.
const (
	AuditOutcomeSucceeded = "SUCCEEDED"
	AuditOutcomeFailed    = "FAILED"
)

// ActionAudit records every confirmed mutating action the gateway forwarded.
type ActionAudit struct {
	ID              string    `db:"id" json:"id"`
	SubmissionID    string    `db:"submission_id" json:"submission_id"`
	ReferenceNumber string    `db:"reference_number" json:"reference_number"`
	FormCode        FormCode  `db:"form_code" json:"form_code"`
	Action          string    `db:"action" json:"action"`
	Actor           string    `db:"actor" json:"actor"`
	Outcome         string    `db:"outcome" json:"outcome"`
	Message         *string   `db:"message" json:"message,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
