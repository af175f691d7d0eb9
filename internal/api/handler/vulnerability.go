package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/patchpilot/patchpilot/internal/api/response"
	"github.com/patchpilot/patchpilot/internal/store"
	"github.com/patchpilot/patchpilot/pkg/models"
)

// VulnerabilityStore defines the store surface the vulnerability handlers
// depend on. Fixing a vulnerability queues a change job, so job creation is
// part of the surface.
type VulnerabilityStore interface {
	GetVulnerability(ctx context.Context, id uuid.UUID) (*models.Vulnerability, error)
	GetVulnerabilities(ctx context.Context, repoID uuid.UUID, filter store.VulnFilter) ([]*models.Vulnerability, error)
	UpdateVulnerabilityStatus(ctx context.Context, id uuid.UUID, status string) error
	GetRepository(ctx context.Context, id uuid.UUID) (*models.Repository, error)
	CreateJob(ctx context.Context, job *models.Job) error
}

var validVulnStatuses = map[string]bool{
	models.VulnStatusOpen:          true,
	models.VulnStatusInProgress:    true,
	models.VulnStatusResolved:      true,
	models.VulnStatusFalsePositive: true,
}

// NewListVulnerabilitiesHandler returns an http.HandlerFunc for GET
// /api/v1/repositories/{repoID}/vulnerabilities. Supports ?status= and
// ?branch= filters.
func NewListVulnerabilitiesHandler(s VulnerabilityStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repoID, ok := parseUUIDParam(w, r, "repoID")
		if !ok {
			return
		}

		filter := store.VulnFilter{
			Status: r.URL.Query().Get("status"),
			Branch: r.URL.Query().Get("branch"),
		}
		if filter.Status != "" && !validVulnStatuses[filter.Status] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of open, in_progress, resolved, false_positive", nil)
			return
		}

		vulns, err := s.GetVulnerabilities(r.Context(), repoID, filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list vulnerabilities", nil)
			return
		}
		if vulns == nil {
			vulns = []*models.Vulnerability{}
		}

		response.JSON(w, vulns)
	}
}

// NewFixVulnerabilityHandler returns an http.HandlerFunc for POST
// /api/v1/vulnerabilities/{vulnID}/fix. It queues a change job whose
// instructions carry a [vuln:<id>] tag; the scheduler strips the tag before
// handing the instructions to the engine and resolves the vulnerability when
// the job completes.
func NewFixVulnerabilityHandler(s VulnerabilityStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vulnID, ok := parseUUIDParam(w, r, "vulnID")
		if !ok {
			return
		}

		vuln, err := s.GetVulnerability(r.Context(), vulnID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Vulnerability not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch vulnerability", nil)
			return
		}

		if vuln.Status == models.VulnStatusResolved || vuln.Status == models.VulnStatusFalsePositive {
			response.Error(w, http.StatusConflict, "CONFLICT",
				"Vulnerability is already closed", nil)
			return
		}

		repo, err := s.GetRepository(r.Context(), vuln.RepoID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch repository", nil)
			return
		}
		if !repo.IsActive {
			response.Error(w, http.StatusConflict, "CONFLICT",
				"Repository is deactivated", nil)
			return
		}

		job := &models.Job{
			ID:           uuid.New(),
			RepoID:       vuln.RepoID,
			Instructions: fixInstructions(vuln),
			Status:       models.JobStatusPending,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.CreateJob(r.Context(), job); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to queue fix job", nil)
			return
		}

		if err := s.UpdateVulnerabilityStatus(r.Context(), vuln.ID, models.VulnStatusInProgress); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to update vulnerability status", nil)
			return
		}

		response.Accepted(w, job)
	}
}

func fixInstructions(v *models.Vulnerability) string {
	return fmt.Sprintf(
		"Fix the %s severity %s issue in %s at line %d: %s. "+
			"Matched code: %s [vuln:%s]",
		v.Severity, v.PatternID, v.FilePath, v.LineNumber, v.Description, v.Match, v.ID,
	)
}
