// Package models contains shared data models used across the PatchPilot codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Repository is a registered git repository that jobs and scans operate on.
// The working copy lives at LocalPath; GitHubURL points at the hosted remote.
type Repository struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	Name        string    `db:"name"         json:"name"`
	Owner       string    `db:"owner"        json:"owner"`
	GitHubURL   string    `db:"github_url"   json:"github_url"`
	Branch      string    `db:"branch"       json:"branch"`
	GitHubToken *string   `db:"github_token" json:"-"`
	LocalPath   string    `db:"local_path"   json:"local_path"`
	Description *string   `db:"description"  json:"description,omitempty"`
	IsActive    bool      `db:"is_active"    json:"is_active"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}

// Token returns the access token or "" when none is configured.
func (r *Repository) Token() string {
	if r.GitHubToken == nil {
		return ""
	}
	return *r.GitHubToken
}
