// Package executor runs one complete change cycle: branch, engine, push,
// CI gate, pull request. Stage failures after the engine step are recorded in
// the result rather than returned, so a failed PR never erases a successful
// push.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/patchpilot/patchpilot/internal/cigate"
	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/gitrepo"
	"github.com/patchpilot/patchpilot/internal/hosting"
	"github.com/patchpilot/patchpilot/internal/publisher"
	"github.com/patchpilot/patchpilot/pkg/models"
	"github.com/patchpilot/patchpilot/pkg/slug"
)

// EngineOutcome summarizes the engine subprocess run inside a ChangeResult.
type EngineOutcome struct {
	Name        string  `json:"name"`
	Success     bool    `json:"success"`
	ExitCode    int     `json:"exit_code"`
	Stdout      string  `json:"stdout,omitempty"`
	Stderr      string  `json:"stderr,omitempty"`
	DurationSec float64 `json:"duration_sec"`
	TimedOut    bool    `json:"timed_out,omitempty"`
	Fallback    bool    `json:"fallback,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// ChangeResult is the merged outcome of one change cycle. Pointer fields are
// nil for stages that were never reached.
type ChangeResult struct {
	Success        bool                  `json:"success"`
	Branch         string                `json:"branch"`
	OriginalBranch string                `json:"original_branch"`
	Engine         EngineOutcome         `json:"engine"`
	Workflow       *cigate.WorkflowCheck `json:"workflow_check,omitempty"`
	Push           *gitrepo.PushResult   `json:"push,omitempty"`
	CI             *cigate.StatusResult  `json:"ci,omitempty"`
	PullRequest    *publisher.PRResult   `json:"pull_request,omitempty"`
	Error          string                `json:"error,omitempty"`
}

// Executor wires the engine, branch manager, CI gate, and publisher into one
// change cycle per job.
type Executor struct {
	eng       models.Engine
	gate      *cigate.Gate
	publisher *publisher.Publisher
	cfg       config.PipelineConfig
	ci        config.CIConfig
	git       config.GitConfig
}

// New creates an Executor.
func New(eng models.Engine, gate *cigate.Gate, pub *publisher.Publisher, cfg config.PipelineConfig, ci config.CIConfig, git config.GitConfig) *Executor {
	return &Executor{eng: eng, gate: gate, publisher: pub, cfg: cfg, ci: ci, git: git}
}

// Execute runs the full change cycle for a repository. The returned error is
// non-nil only when orchestration itself fails (bad path, git breakage);
// engine or downstream stage failures are reported inside the result.
// A deployment-wide Pipeline.DryRun downgrades every run to a dry run.
func (e *Executor) Execute(ctx context.Context, repo *models.Repository, instructions string) (ChangeResult, error) {
	return e.run(ctx, repo, instructions, e.cfg.DryRun)
}

// DryRun invokes the engine with its dry-run flag and skips push, CI, and PR.
func (e *Executor) DryRun(ctx context.Context, repo *models.Repository, instructions string) (ChangeResult, error) {
	return e.run(ctx, repo, instructions, true)
}

func (e *Executor) run(ctx context.Context, repo *models.Repository, instructions string, dryRun bool) (ChangeResult, error) {
	r, err := gitrepo.Open(repo.LocalPath)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("opening working copy: %w", err)
	}
	r.SetIdentity(e.git.AuthorName, e.git.AuthorEmail)

	if err := r.EnsureInitialCommit(ctx); err != nil {
		return ChangeResult{}, fmt.Errorf("ensuring initial commit: %w", err)
	}

	originalBranch, err := r.CurrentBranch(ctx)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("reading current branch: %w", err)
	}

	branch := slug.Branch(instructions, time.Now())
	if err := r.CreateBranch(ctx, branch); err != nil {
		return ChangeResult{}, fmt.Errorf("creating branch %s: %w", branch, err)
	}

	result := ChangeResult{
		Branch:         branch,
		OriginalBranch: originalBranch,
	}

	result.Engine = e.applyEngine(ctx, r, repo, instructions, dryRun)
	if !result.Engine.Success {
		result.Error = "engine run failed"
		return result, nil
	}

	if dryRun || !e.cfg.AutoPush {
		result.Success = true
		return result, nil
	}

	owner, name, err := hosting.ParseRepoURL(repo.GitHubURL)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	// Pre-push check runs against the branch a new PR would merge into.
	check := e.gate.CheckWorkflows(ctx, owner, name, repo.Branch)
	result.Workflow = &check

	if err := r.EnsureRemoteOrigin(ctx, repo.GitHubURL); err != nil {
		result.Error = err.Error()
		return result, nil
	}

	push := r.Push(ctx, branch, repo.Token())
	result.Push = &push
	if !push.Success {
		result.Error = "push failed"
		return result, nil
	}

	if e.ci.WaitForCI {
		ci := e.gate.WaitForStatus(ctx, owner, name, branch)
		result.CI = &ci
		if !ci.Success {
			result.Error = "CI checks did not pass"
			return result, nil
		}
	}

	if e.cfg.CreatePR && repo.Token() != "" {
		pr, err := e.publisher.Publish(ctx, repo, branch, instructions)
		if err != nil {
			pr.Error = err.Error()
		}
		result.PullRequest = &pr
	}

	result.Success = true
	return result, nil
}

// applyEngine runs the engine and converts every failure mode into an
// EngineOutcome. A missing engine binary falls back to committing a change
// request document so the pipeline still produces an auditable artifact.
func (e *Executor) applyEngine(ctx context.Context, r *gitrepo.Repo, repo *models.Repository, instructions string, dryRun bool) EngineOutcome {
	res, err := e.eng.Apply(ctx, models.EngineRequest{
		RepoPath:     repo.LocalPath,
		Instructions: instructions,
		Token:        repo.Token(),
		DryRun:       dryRun,
	})

	outcome := EngineOutcome{
		Name:        e.eng.Name(),
		ExitCode:    res.ExitCode,
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
		DurationSec: res.Duration.Seconds(),
		TimedOut:    res.TimedOut,
	}

	switch {
	case err == nil && res.TimedOut:
		outcome.Error = fmt.Sprintf("engine timed out after %.1fs", res.Duration.Seconds())
	case err == nil:
		outcome.Success = res.Succeeded()
	case errors.Is(err, models.ErrEngineNotFound):
		slog.Warn("engine binary missing, recording change request instead",
			"repo", repo.Name, "engine", e.eng.Name())
		if fbErr := e.recordChangeRequest(ctx, r, instructions); fbErr != nil {
			outcome.Error = fbErr.Error()
			return outcome
		}
		outcome.Success = true
		outcome.Fallback = true
	default:
		outcome.Error = err.Error()
	}
	return outcome
}

// recordChangeRequest writes and commits a markdown description of the
// requested change.
func (e *Executor) recordChangeRequest(ctx context.Context, r *gitrepo.Repo, instructions string) error {
	name := fmt.Sprintf("CHANGE_REQUEST_%d.md", time.Now().Unix())
	content := fmt.Sprintf("# Change Request\n\nRequested: %s\n\n## Instructions\n\n%s\n",
		time.Now().UTC().Format(time.RFC3339), instructions)

	if err := os.WriteFile(filepath.Join(r.Dir(), name), []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing change request: %w", err)
	}
	return r.CommitAll(ctx, "Record change request")
}
