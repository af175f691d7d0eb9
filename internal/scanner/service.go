package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/patchpilot/patchpilot/internal/gitrepo"
	"github.com/patchpilot/patchpilot/internal/store"
	"github.com/patchpilot/patchpilot/pkg/models"
)

// ScanReport summarizes one branch scan after reconciliation.
type ScanReport struct {
	Branch   string `json:"branch"`
	Findings int    `json:"findings"`
	New      int    `json:"new"`
	Resolved int    `json:"resolved"`
}

// VulnStore is the slice of the store the scanner needs. *store.PostgresStore
// satisfies it.
type VulnStore interface {
	GetVulnerabilities(ctx context.Context, repoID uuid.UUID, filter store.VulnFilter) ([]*models.Vulnerability, error)
	LogVulnerability(ctx context.Context, vuln *models.Vulnerability) error
	UpdateVulnerabilityStatus(ctx context.Context, id uuid.UUID, status string) error
}

// Service scans repository branches in isolated worktrees and reconciles the
// results into the vulnerability store.
type Service struct {
	store VulnStore
}

// NewService creates a scan Service.
func NewService(st VulnStore) *Service {
	return &Service{store: st}
}

// ScanBranch checks the branch tip out into a temporary worktree, scans it,
// and reconciles the findings. The worktree never sees uncommitted changes
// from a concurrently running change cycle, and it is removed on every path.
func (s *Service) ScanBranch(ctx context.Context, repo *models.Repository, branch string) (ScanReport, error) {
	return s.scan(ctx, repo, branch, branch)
}

// scan checks out ref but records every finding under branch, so a remote
// ref like origin/main reconciles against the same records as a local scan
// of main.
func (s *Service) scan(ctx context.Context, repo *models.Repository, ref, branch string) (ScanReport, error) {
	r, err := gitrepo.Open(repo.LocalPath)
	if err != nil {
		return ScanReport{}, fmt.Errorf("opening working copy: %w", err)
	}

	dir, err := os.MkdirTemp("", "patchpilot-scan-*")
	if err != nil {
		return ScanReport{}, fmt.Errorf("creating scan dir: %w", err)
	}
	defer os.RemoveAll(dir)

	worktree := filepath.Join(dir, "worktree")
	if err := r.AddWorktree(ctx, worktree, ref); err != nil {
		return ScanReport{}, fmt.Errorf("adding worktree for %s: %w", ref, err)
	}
	defer func() {
		if err := r.RemoveWorktree(context.WithoutCancel(ctx), worktree); err != nil {
			slog.Warn("removing scan worktree", "branch", branch, "error", err)
		}
	}()

	findings := Scan(worktree)
	slog.Info("branch scanned", "repo", repo.Name, "branch", branch, "findings", len(findings))

	return s.Reconcile(ctx, repo, branch, findings)
}

// ScanAllBranches fetches remote refs and scans every remote branch.
func (s *Service) ScanAllBranches(ctx context.Context, repo *models.Repository) ([]ScanReport, error) {
	r, err := gitrepo.Open(repo.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("opening working copy: %w", err)
	}

	if err := r.Fetch(ctx); err != nil {
		slog.Warn("fetch failed, scanning known refs", "repo", repo.Name, "error", err)
	}
	branches, err := r.RemoteBranches(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote branches: %w", err)
	}

	var reports []ScanReport
	for _, branch := range branches {
		report, err := s.scan(ctx, repo, "origin/"+branch, branch)
		if err != nil {
			slog.Error("branch scan failed", "repo", repo.Name, "branch", branch, "error", err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Reconcile diffs a scan's findings against the branch's recorded open and
// in-progress vulnerabilities: stale records are auto-resolved, unknown
// findings are persisted as fresh open records. Re-scanning an unchanged
// branch is a no-op.
func (s *Service) Reconcile(ctx context.Context, repo *models.Repository, branch string, findings []Finding) (ScanReport, error) {
	report := ScanReport{Branch: branch, Findings: len(findings)}

	known, err := s.store.GetVulnerabilities(ctx, repo.ID, store.VulnFilter{Branch: branch})
	if err != nil {
		return report, fmt.Errorf("loading known vulnerabilities: %w", err)
	}

	current := make(map[string]Finding, len(findings))
	for _, f := range findings {
		current[findingKey(f.FilePath, f.LineNumber, f.PatternID)] = f
	}

	knownKeys := make(map[string]bool, len(known))
	for _, v := range known {
		key := findingKey(v.FilePath, v.LineNumber, v.PatternID)
		switch v.Status {
		case models.VulnStatusOpen, models.VulnStatusInProgress:
			knownKeys[key] = true
			if _, stillPresent := current[key]; !stillPresent {
				if err := s.store.UpdateVulnerabilityStatus(ctx, v.ID, models.VulnStatusResolved); err != nil {
					return report, fmt.Errorf("resolving vulnerability %s: %w", v.ID, err)
				}
				report.Resolved++
			}
		case models.VulnStatusFalsePositive:
			// False positives suppress re-opening; resolved records do not,
			// so a reintroduced line yields a fresh open record.
			knownKeys[key] = true
		}
	}

	now := time.Now().UTC()
	for key, f := range current {
		if knownKeys[key] {
			continue
		}
		vuln := &models.Vulnerability{
			ID:          uuid.New(),
			RepoID:      repo.ID,
			FilePath:    f.FilePath,
			LineNumber:  f.LineNumber,
			Severity:    f.Severity,
			Description: f.Description,
			PatternID:   f.PatternID,
			Branch:      branch,
			Status:      models.VulnStatusOpen,
			Match:       f.Match,
			CreatedAt:   now,
		}
		if err := s.store.LogVulnerability(ctx, vuln); err != nil {
			return report, fmt.Errorf("logging vulnerability: %w", err)
		}
		report.New++
	}

	return report, nil
}

// findingKey identifies a finding across repeated scans of the same branch.
func findingKey(file string, line int, patternID string) string {
	return fmt.Sprintf("%s|%d|%s", file, line, patternID)
}
