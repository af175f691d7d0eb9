package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/patchpilot/patchpilot/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Repositories ---

func (s *PostgresStore) CreateRepository(ctx context.Context, repo *models.Repository) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO repositories (id, name, owner, github_url, branch, github_token, local_path, description, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		repo.ID, repo.Name, repo.Owner, repo.GitHubURL, repo.Branch, repo.GitHubToken,
		repo.LocalPath, repo.Description, repo.IsActive, repo.CreatedAt, repo.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRepository(ctx context.Context, id uuid.UUID) (*models.Repository, error) {
	var r models.Repository
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner, github_url, branch, github_token, local_path, description, is_active, created_at, updated_at
		 FROM repositories WHERE id = $1`, id,
	).Scan(&r.ID, &r.Name, &r.Owner, &r.GitHubURL, &r.Branch, &r.GitHubToken,
		&r.LocalPath, &r.Description, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) GetRepositoryByURL(ctx context.Context, githubURL string) (*models.Repository, error) {
	var r models.Repository
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner, github_url, branch, github_token, local_path, description, is_active, created_at, updated_at
		 FROM repositories WHERE github_url = $1`, githubURL,
	).Scan(&r.ID, &r.Name, &r.Owner, &r.GitHubURL, &r.Branch, &r.GitHubToken,
		&r.LocalPath, &r.Description, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by url: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListRepositories(ctx context.Context, activeOnly bool) ([]*models.Repository, error) {
	query := `SELECT id, name, owner, github_url, branch, github_token, local_path, description, is_active, created_at, updated_at
		 FROM repositories`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		var r models.Repository
		if err := rows.Scan(&r.ID, &r.Name, &r.Owner, &r.GitHubURL, &r.Branch, &r.GitHubToken,
			&r.LocalPath, &r.Description, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, &r)
	}
	return repos, rows.Err()
}

func (s *PostgresStore) UpdateRepository(ctx context.Context, repo *models.Repository) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE repositories
		 SET branch = $2, github_token = $3, description = $4, is_active = $5, updated_at = NOW()
		 WHERE id = $1`,
		repo.ID, repo.Branch, repo.GitHubToken, repo.Description, repo.IsActive)
	if err != nil {
		return fmt.Errorf("update repository: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteRepository(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, repo_id, instructions, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.RepoID, job.Instructions, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, repo_id, instructions, status, result, error_message, created_at, started_at, completed_at
		 FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.RepoID, &j.Instructions, &j.Status, &j.Result, &j.ErrorMessage,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, repoID uuid.UUID, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, repo_id, instructions, status, result, error_message, created_at, started_at, completed_at
		 FROM jobs WHERE repo_id = $1 ORDER BY created_at DESC LIMIT $2`, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.RepoID, &j.Instructions, &j.Status, &j.Result, &j.ErrorMessage,
			&j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// GetNextPendingJob returns the earliest pending job for the repository (FIFO
// by creation time), or ErrNotFound when the queue is empty.
func (s *PostgresStore) GetNextPendingJob(ctx context.Context, repoID uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, repo_id, instructions, status, result, error_message, created_at, started_at, completed_at
		 FROM jobs WHERE repo_id = $1 AND status = 'pending'
		 ORDER BY created_at ASC LIMIT 1`, repoID,
	).Scan(&j.ID, &j.RepoID, &j.Instructions, &j.Status, &j.Result, &j.ErrorMessage,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get next pending job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) HasRunningJob(ctx context.Context, repoID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE repo_id = $1 AND status = 'running')`, repoID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has running job: %w", err)
	}
	return exists, nil
}

var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := ApplyJobUpdateOptions(opts)

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	valid := false
	for _, a := range validTransitions[currentStatus] {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid job status transition: %s -> %s", currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2`
	args := []any{id, status}
	argIdx := 3

	if status == models.JobStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.Result != nil {
		query += fmt.Sprintf(", result = $%d", argIdx)
		args = append(args, *params.Result)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}

	query += " WHERE id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// --- Vulnerabilities ---

func (s *PostgresStore) LogVulnerability(ctx context.Context, vuln *models.Vulnerability) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vulnerabilities (id, repo_id, file_path, line_number, severity, description, pattern_id, branch, status, match, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		vuln.ID, vuln.RepoID, vuln.FilePath, vuln.LineNumber, vuln.Severity, vuln.Description,
		vuln.PatternID, vuln.Branch, vuln.Status, vuln.Match, vuln.CreatedAt)
	if err != nil {
		return fmt.Errorf("log vulnerability: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVulnerability(ctx context.Context, id uuid.UUID) (*models.Vulnerability, error) {
	var v models.Vulnerability
	err := s.pool.QueryRow(ctx,
		`SELECT id, repo_id, file_path, line_number, severity, description, pattern_id, branch, status, match, created_at, resolved_at
		 FROM vulnerabilities WHERE id = $1`, id,
	).Scan(&v.ID, &v.RepoID, &v.FilePath, &v.LineNumber, &v.Severity, &v.Description,
		&v.PatternID, &v.Branch, &v.Status, &v.Match, &v.CreatedAt, &v.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vulnerability: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) GetVulnerabilities(ctx context.Context, repoID uuid.UUID, filter VulnFilter) ([]*models.Vulnerability, error) {
	query := `SELECT id, repo_id, file_path, line_number, severity, description, pattern_id, branch, status, match, created_at, resolved_at
		 FROM vulnerabilities WHERE repo_id = $1`
	args := []any{repoID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Branch != "" {
		query += fmt.Sprintf(" AND branch = $%d", argIdx)
		args = append(args, filter.Branch)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get vulnerabilities: %w", err)
	}
	defer rows.Close()

	var vulns []*models.Vulnerability
	for rows.Next() {
		var v models.Vulnerability
		if err := rows.Scan(&v.ID, &v.RepoID, &v.FilePath, &v.LineNumber, &v.Severity, &v.Description,
			&v.PatternID, &v.Branch, &v.Status, &v.Match, &v.CreatedAt, &v.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan vulnerability: %w", err)
		}
		vulns = append(vulns, &v)
	}
	return vulns, rows.Err()
}

// UpdateVulnerabilityStatus transitions a finding; moving to resolved stamps
// resolved_at, moving away from resolved clears it.
func (s *PostgresStore) UpdateVulnerabilityStatus(ctx context.Context, id uuid.UUID, status string) error {
	var query string
	if status == models.VulnStatusResolved {
		query = `UPDATE vulnerabilities SET status = $2, resolved_at = NOW() WHERE id = $1`
	} else {
		query = `UPDATE vulnerabilities SET status = $2, resolved_at = NULL WHERE id = $1`
	}
	tag, err := s.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update vulnerability status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
