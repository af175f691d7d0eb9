package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/patchpilot/patchpilot/internal/api/response"
	"github.com/patchpilot/patchpilot/internal/hosting"
	"github.com/patchpilot/patchpilot/internal/store"
	"github.com/patchpilot/patchpilot/pkg/models"
)

// RepositoryStore defines the store surface the repository handlers depend on.
type RepositoryStore interface {
	CreateRepository(ctx context.Context, repo *models.Repository) error
	GetRepository(ctx context.Context, id uuid.UUID) (*models.Repository, error)
	ListRepositories(ctx context.Context, activeOnly bool) ([]*models.Repository, error)
	UpdateRepository(ctx context.Context, repo *models.Repository) error
	DeleteRepository(ctx context.Context, id uuid.UUID) error
}

// NewCreateRepositoryHandler returns an http.HandlerFunc for POST
// /api/v1/repositories. When local_path is omitted the working copy location
// is derived as <repoBase>/<owner>/<name>.
func NewCreateRepositoryHandler(s RepositoryStore, repoBase string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string  `json:"name"`
			Owner       string  `json:"owner"`
			GitHubURL   string  `json:"github_url"`
			Branch      string  `json:"branch"`
			GitHubToken *string `json:"github_token"`
			LocalPath   string  `json:"local_path"`
			Description *string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if req.Owner == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "owner is required", nil)
			return
		}
		if req.GitHubURL == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "github_url is required", nil)
			return
		}
		if _, _, err := hosting.ParseRepoURL(req.GitHubURL); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"github_url must look like https://github.com/{owner}/{repo}", nil)
			return
		}

		branch := req.Branch
		if branch == "" {
			branch = "main"
		}
		localPath := req.LocalPath
		if localPath == "" {
			localPath = filepath.Join(repoBase, req.Owner, req.Name)
		}

		now := time.Now().UTC()
		repo := &models.Repository{
			ID:          uuid.New(),
			Name:        req.Name,
			Owner:       req.Owner,
			GitHubURL:   req.GitHubURL,
			Branch:      branch,
			GitHubToken: req.GitHubToken,
			LocalPath:   localPath,
			Description: req.Description,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := s.CreateRepository(r.Context(), repo); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "CONFLICT",
					"A repository with this URL is already registered", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create repository", nil)
			return
		}

		response.Created(w, repo)
	}
}

// NewListRepositoriesHandler returns an http.HandlerFunc for GET
// /api/v1/repositories. Pass ?active=true to exclude deactivated entries.
func NewListRepositoriesHandler(s RepositoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activeOnly := r.URL.Query().Get("active") == "true"

		repos, err := s.ListRepositories(r.Context(), activeOnly)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list repositories", nil)
			return
		}
		if repos == nil {
			repos = []*models.Repository{}
		}

		response.JSON(w, repos)
	}
}

// NewGetRepositoryHandler returns an http.HandlerFunc for GET
// /api/v1/repositories/{repoID}.
func NewGetRepositoryHandler(s RepositoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "repoID")
		if !ok {
			return
		}

		repo, err := s.GetRepository(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Repository not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch repository", nil)
			return
		}

		response.JSON(w, repo)
	}
}

// NewUpdateRepositoryHandler returns an http.HandlerFunc for PATCH
// /api/v1/repositories/{repoID}. Only branch, token, description, and the
// active flag are mutable; URL, owner, and local path are fixed at creation.
func NewUpdateRepositoryHandler(s RepositoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "repoID")
		if !ok {
			return
		}

		var req struct {
			Branch      *string `json:"branch"`
			GitHubToken *string `json:"github_token"`
			Description *string `json:"description"`
			IsActive    *bool   `json:"is_active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		repo, err := s.GetRepository(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Repository not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch repository", nil)
			return
		}

		if req.Branch != nil {
			if *req.Branch == "" {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "branch must not be empty", nil)
				return
			}
			repo.Branch = *req.Branch
		}
		if req.GitHubToken != nil {
			repo.GitHubToken = req.GitHubToken
		}
		if req.Description != nil {
			repo.Description = req.Description
		}
		if req.IsActive != nil {
			repo.IsActive = *req.IsActive
		}

		if err := s.UpdateRepository(r.Context(), repo); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Repository not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to update repository", nil)
			return
		}

		response.JSON(w, repo)
	}
}

// NewDeleteRepositoryHandler returns an http.HandlerFunc for DELETE
// /api/v1/repositories/{repoID}.
func NewDeleteRepositoryHandler(s RepositoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "repoID")
		if !ok {
			return
		}

		if err := s.DeleteRepository(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Repository not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to delete repository", nil)
			return
		}

		response.NoContent(w)
	}
}

// parseUUIDParam extracts and parses a UUID chi route parameter, writing a
// 400 response on failure.
func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
