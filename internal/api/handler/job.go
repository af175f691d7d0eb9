package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/patchpilot/patchpilot/internal/api/response"
	"github.com/patchpilot/patchpilot/internal/cache"
	"github.com/patchpilot/patchpilot/internal/store"
	"github.com/patchpilot/patchpilot/pkg/models"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 200

	jobStatusTTL = time.Hour
)

// JobStore defines the store surface the job handlers depend on.
type JobStore interface {
	GetRepository(ctx context.Context, id uuid.UUID) (*models.Repository, error)
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, repoID uuid.UUID, limit int) ([]*models.Job, error)
}

// NewCreateJobHandler returns an http.HandlerFunc for POST
// /api/v1/repositories/{repoID}/jobs. Jobs are queued as pending and picked
// up by the scheduler; the response is 202 with the queued job.
func NewCreateJobHandler(s JobStore, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repoID, ok := parseUUIDParam(w, r, "repoID")
		if !ok {
			return
		}

		var req struct {
			Instructions string `json:"instructions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Instructions == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "instructions is required", nil)
			return
		}

		repo, err := s.GetRepository(r.Context(), repoID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Repository not found", nil)
				return
			}
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
			RepoID:       repo.ID,
			Instructions: req.Instructions,
			Status:       models.JobStatusPending,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.CreateJob(r.Context(), job); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to queue job", nil)
			return
		}

		// Best effort; the store row is authoritative.
		if c != nil {
			c.SetJobStatus(r.Context(), job.ID, job.Status, jobStatusTTL)
		}

		response.Accepted(w, job)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// The cached status mirror, when present, is fresher than the store row
// mid-transition and overrides it in the response.
func NewGetJobHandler(s JobStore, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "jobID")
		if !ok {
			return
		}

		job, err := s.GetJob(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch job", nil)
			return
		}

		if c != nil {
			if status, ok, _ := c.GetJobStatus(r.Context(), job.ID); ok {
				job.Status = status
			}
		}

		response.JSON(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET
// /api/v1/repositories/{repoID}/jobs.
func NewListJobsHandler(s JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repoID, ok := parseUUIDParam(w, r, "repoID")
		if !ok {
			return
		}

		limit := defaultJobListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be a positive integer", nil)
				return
			}
			if n > maxJobListLimit {
				n = maxJobListLimit
			}
			limit = n
		}

		jobs, err := s.ListJobs(r.Context(), repoID, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list jobs", nil)
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}

		response.JSON(w, jobs)
	}
}
