// Package cigate decides whether a change may proceed past CI. Both waits are
// deliberately fail-open: an unreachable or unconfigured CI system never
// blocks the pipeline, it only downgrades the outcome to a warning.
package cigate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/hosting"
)

// Terminal commit-status states reported by the hosting API.
const (
	StateSuccess = "success"
	StateFailure = "failure"
	StateError   = "error"
	StatePending = "pending"
	StateUnknown = "unknown"
)

// WorkflowCheck is the outcome of the pre-push workflow query.
type WorkflowCheck struct {
	SafeToProceed bool   `json:"safe_to_proceed"`
	Reason        string `json:"reason"`
	Warning       string `json:"warning,omitempty"`
}

// StatusResult is the outcome of the post-push commit-status wait.
type StatusResult struct {
	Success bool   `json:"success"`
	State   string `json:"state"`
	Reason  string `json:"reason"`
}

// Gate polls the hosting API around a change. The clock and sleep hooks are
// injectable so the waits can be tested against a simulated clock.
type Gate struct {
	client hosting.Client
	cfg    config.CIConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Gate with a real clock.
func New(client hosting.Client, cfg config.CIConfig) *Gate {
	return &Gate{
		client: client,
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// NewWithClock creates a Gate with injected time hooks for tests.
func NewWithClock(client hosting.Client, cfg config.CIConfig, now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Gate {
	return &Gate{client: client, cfg: cfg, now: now, sleep: sleep}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CheckWorkflows queries for in-progress workflow runs on the target branch
// before pushing, to avoid racing an in-flight deployment. In-progress runs
// are polled until clear or until the workflow timeout, after which the gate
// proceeds anyway with a warning.
func (g *Gate) CheckWorkflows(ctx context.Context, owner, repo, targetBranch string) WorkflowCheck {
	deadline := g.now().Add(g.cfg.WorkflowTimeout)

	for {
		runs, err := g.client.ListWorkflowRuns(ctx, owner, repo, targetBranch, "in_progress")
		if err != nil {
			if errors.Is(err, hosting.ErrNotFound) {
				return WorkflowCheck{SafeToProceed: true, Reason: "no workflows configured"}
			}
			slog.Warn("workflow check failed, proceeding",
				"owner", owner, "repo", repo, "error", err)
			return WorkflowCheck{
				SafeToProceed: true,
				Reason:        "workflow status unavailable",
				Warning:       err.Error(),
			}
		}
		if len(runs) == 0 {
			return WorkflowCheck{SafeToProceed: true, Reason: "no workflows in progress"}
		}

		if !g.now().Before(deadline) {
			slog.Warn("workflows still running at timeout, proceeding",
				"owner", owner, "repo", repo, "in_progress", len(runs))
			return WorkflowCheck{
				SafeToProceed: true,
				Reason:        "workflow wait timed out",
				Warning:       fmt.Sprintf("%d workflow run(s) still in progress after %s", len(runs), g.cfg.WorkflowTimeout),
			}
		}

		slog.Info("waiting for in-progress workflows",
			"owner", owner, "repo", repo, "in_progress", len(runs))
		if err := g.sleep(ctx, g.cfg.WorkflowInterval); err != nil {
			return WorkflowCheck{
				SafeToProceed: true,
				Reason:        "workflow wait cancelled",
				Warning:       err.Error(),
			}
		}
	}
}

// WaitForStatus polls the combined commit status of the pushed branch until a
// terminal state or the status timeout. A ref with zero configured checks
// succeeds immediately. Pending is tolerated for a bounded number of
// consecutive polls and then treated as "no CI configured"; a slow CI
// pipeline can be misclassified by this heuristic, which is accepted.
func (g *Gate) WaitForStatus(ctx context.Context, owner, repo, branch string) StatusResult {
	deadline := g.now().Add(g.cfg.StatusTimeout)
	pendingPolls := 0

	for {
		status, err := g.client.GetCombinedStatus(ctx, owner, repo, branch)
		if err != nil {
			slog.Warn("commit status unavailable, treating as no CI",
				"owner", owner, "repo", repo, "branch", branch, "error", err)
			return StatusResult{Success: true, State: StateUnknown, Reason: "no CI configured"}
		}

		if status.TotalCount == 0 {
			return StatusResult{Success: true, State: StateSuccess, Reason: "no status checks configured"}
		}

		switch status.State {
		case StateSuccess:
			return StatusResult{Success: true, State: StateSuccess, Reason: "all status checks passed"}
		case StateFailure, StateError:
			return StatusResult{Success: false, State: status.State, Reason: "status checks failed"}
		case StatePending:
			pendingPolls++
			if pendingPolls >= g.cfg.MaxPendingPolls {
				return StatusResult{Success: true, State: StatePending, Reason: "no CI configured"}
			}
		default:
			return StatusResult{Success: true, State: StateUnknown, Reason: "unrecognized CI state " + status.State}
		}

		if !g.now().Before(deadline) {
			return StatusResult{Success: false, State: StatePending, Reason: fmt.Sprintf("CI wait timed out after %s", g.cfg.StatusTimeout)}
		}
		if err := g.sleep(ctx, g.cfg.StatusInterval); err != nil {
			return StatusResult{Success: false, State: StatePending, Reason: "CI wait cancelled"}
		}
	}
}
