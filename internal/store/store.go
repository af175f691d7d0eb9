package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/patchpilot/patchpilot/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateRepository(ctx context.Context, repo *models.Repository) error
	GetRepository(ctx context.Context, id uuid.UUID) (*models.Repository, error)
	GetRepositoryByURL(ctx context.Context, githubURL string) (*models.Repository, error)
	ListRepositories(ctx context.Context, activeOnly bool) ([]*models.Repository, error)
	UpdateRepository(ctx context.Context, repo *models.Repository) error
	DeleteRepository(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, repoID uuid.UUID, limit int) ([]*models.Job, error)
	GetNextPendingJob(ctx context.Context, repoID uuid.UUID) (*models.Job, error)
	HasRunningJob(ctx context.Context, repoID uuid.UUID) (bool, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error

	LogVulnerability(ctx context.Context, vuln *models.Vulnerability) error
	GetVulnerability(ctx context.Context, id uuid.UUID) (*models.Vulnerability, error)
	GetVulnerabilities(ctx context.Context, repoID uuid.UUID, filter VulnFilter) ([]*models.Vulnerability, error)
	UpdateVulnerabilityStatus(ctx context.Context, id uuid.UUID, status string) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// VulnFilter narrows vulnerability queries. Zero values match everything.
type VulnFilter struct {
	Status string
	Branch string
}

// JobUpdate collects the optional fields of a job status update.
type JobUpdate struct {
	Result       *string
	ErrorMessage *string
}

type JobUpdateOption func(*JobUpdate)

// WithResult attaches the serialized change result to a terminal job update.
func WithResult(result string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Result = &result
	}
}

// WithErrorMessage attaches a failure description to a terminal job update.
func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}

// ApplyJobUpdateOptions folds options into a JobUpdate. Store implementations
// and test fakes share it.
func ApplyJobUpdateOptions(opts []JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}
