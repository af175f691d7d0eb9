// Package api wires handlers and middleware into the HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/patchpilot/patchpilot/internal/api/middleware"
	"github.com/patchpilot/patchpilot/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateRepository http.HandlerFunc
	ListRepositories http.HandlerFunc
	GetRepository    http.HandlerFunc
	UpdateRepository http.HandlerFunc
	DeleteRepository http.HandlerFunc

	CreateJob http.HandlerFunc
	ListJobs  http.HandlerFunc
	GetJob    http.HandlerFunc

	TriggerScan         http.HandlerFunc
	ListVulnerabilities http.HandlerFunc
	FixVulnerability    http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/repositories", orNotImplemented(deps.CreateRepository))
		r.Get("/api/v1/repositories", orNotImplemented(deps.ListRepositories))
		r.Get("/api/v1/repositories/{repoID}", orNotImplemented(deps.GetRepository))
		r.Patch("/api/v1/repositories/{repoID}", orNotImplemented(deps.UpdateRepository))
		r.Delete("/api/v1/repositories/{repoID}", orNotImplemented(deps.DeleteRepository))

		r.Post("/api/v1/repositories/{repoID}/jobs", orNotImplemented(deps.CreateJob))
		r.Get("/api/v1/repositories/{repoID}/jobs", orNotImplemented(deps.ListJobs))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))

		r.Post("/api/v1/repositories/{repoID}/scan", orNotImplemented(deps.TriggerScan))
		r.Get("/api/v1/repositories/{repoID}/vulnerabilities", orNotImplemented(deps.ListVulnerabilities))
		r.Post("/api/v1/vulnerabilities/{vulnID}/fix", orNotImplemented(deps.FixVulnerability))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
