package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is one queued change request against a repository. The worker claims
// the earliest pending job per repository and runs it to completion; at most
// one job per repository is ever running.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	RepoID       uuid.UUID  `db:"repo_id"       json:"repo_id"`
	Instructions string     `db:"instructions"  json:"instructions"`
	Status       string     `db:"status"        json:"status"`
	Result       *string    `db:"result"        json:"result,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
}
