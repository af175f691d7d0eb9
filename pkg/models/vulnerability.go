package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	VulnStatusOpen          = "open"
	VulnStatusInProgress    = "in_progress"
	VulnStatusResolved      = "resolved"
	VulnStatusFalsePositive = "false_positive"
)

// Vulnerability is one static-analysis finding on a branch. The tuple
// (FilePath, LineNumber, PatternID, Branch) identifies a finding across
// repeated scans of the same branch; the reconciler uses it to auto-close
// records whose underlying line has been fixed.
type Vulnerability struct {
	ID          uuid.UUID  `db:"id"          json:"id"`
	RepoID      uuid.UUID  `db:"repo_id"     json:"repo_id"`
	FilePath    string     `db:"file_path"   json:"file_path"`
	LineNumber  int        `db:"line_number" json:"line_number"`
	Severity    string     `db:"severity"    json:"severity"`
	Description string     `db:"description" json:"description"`
	PatternID   string     `db:"pattern_id"  json:"pattern_id"`
	Branch      string     `db:"branch"      json:"branch"`
	Status      string     `db:"status"      json:"status"`
	Match       string     `db:"match"       json:"match"`
	CreatedAt   time.Time  `db:"created_at"  json:"created_at"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// SeverityRank maps a severity string to a numeric rank for ordering.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}
