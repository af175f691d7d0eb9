package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/patchpilot/patchpilot/internal/api/response"
	"github.com/patchpilot/patchpilot/internal/cache"
	"github.com/patchpilot/patchpilot/internal/scanner"
	"github.com/patchpilot/patchpilot/internal/store"
	"github.com/patchpilot/patchpilot/pkg/models"
)

const scanReportTTL = time.Hour

// BranchScanner runs vulnerability scans against a repository's branches.
type BranchScanner interface {
	ScanBranch(ctx context.Context, repo *models.Repository, branch string) (scanner.ScanReport, error)
	ScanAllBranches(ctx context.Context, repo *models.Repository) ([]scanner.ScanReport, error)
}

// ScanRepoStore is the store surface the scan handler needs.
type ScanRepoStore interface {
	GetRepository(ctx context.Context, id uuid.UUID) (*models.Repository, error)
}

// NewScanHandler returns an http.HandlerFunc for POST
// /api/v1/repositories/{repoID}/scan. By default the registered default
// branch is scanned; pass ?all_branches=true to scan every remote branch.
// The latest report per branch is mirrored to the cache for dashboards.
func NewScanHandler(s ScanRepoStore, sc BranchScanner, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repoID, ok := parseUUIDParam(w, r, "repoID")
		if !ok {
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

		if r.URL.Query().Get("all_branches") == "true" {
			reports, err := sc.ScanAllBranches(r.Context(), repo)
			if err != nil {
				response.Error(w, http.StatusBadGateway, "SCAN_FAILED",
					"Scan failed: "+err.Error(), nil)
				return
			}
			if reports == nil {
				reports = []scanner.ScanReport{}
			}
			for _, report := range reports {
				cacheReport(r.Context(), c, repo.ID, report)
			}
			response.JSON(w, reports)
			return
		}

		report, err := sc.ScanBranch(r.Context(), repo, repo.Branch)
		if err != nil {
			response.Error(w, http.StatusBadGateway, "SCAN_FAILED",
				"Scan failed: "+err.Error(), nil)
			return
		}
		cacheReport(r.Context(), c, repo.ID, report)

		response.JSON(w, report)
	}
}

// cacheReport is best effort; a cache outage never fails a scan.
func cacheReport(ctx context.Context, c cache.Cache, repoID uuid.UUID, report scanner.ScanReport) {
	if c == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	c.Set(ctx, cache.ScanReportKey(repoID, report.Branch), data, scanReportTTL)
}
